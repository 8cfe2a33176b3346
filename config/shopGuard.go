package config

import (
	"context"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/motoshop_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShopGuardPlugin scopes queries/updates/deletes on registered tables to the
// request's shop: a row is visible when it belongs to the caller's shop or was
// created by the caller.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include shop_id manually.
// - Admin/internal bypass is explicit via context flags.
type ShopGuardPlugin struct{}

var (
	shopScopedTables   = map[string]bool{}
	shopScopedTablesMu sync.RWMutex
)

// RegisterShopScopedTable opts a table into shop scoping. The table must have
// shop_id and created_by columns.
func RegisterShopScopedTable(table string) {
	shopScopedTablesMu.Lock()
	defer shopScopedTablesMu.Unlock()
	shopScopedTables[table] = true
}

func isShopScopedTable(table string) bool {
	shopScopedTablesMu.RLock()
	defer shopScopedTablesMu.RUnlock()
	return shopScopedTables[table]
}

func NewShopGuardPlugin() *ShopGuardPlugin { return &ShopGuardPlugin{} }

func (p *ShopGuardPlugin) Name() string { return "shop_guard" }

func (p *ShopGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("shop_guard:query", shopGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("shop_guard:row", shopGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("shop_guard:update", shopGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("shop_guard:delete", shopGuardCallback); err != nil {
		return err
	}
	return nil
}

func shopGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassShopScope(ctx) {
		return
	}
	if db.Statement.Schema == nil || !isShopScopedTable(db.Statement.Table) {
		return
	}
	shopID, _ := appctx.GetString(ctx, appctx.ContextKeyShopId)
	profileID, _ := appctx.GetString(ctx, appctx.ContextKeyProfileId)
	if shopID == "" && profileID == "" {
		return
	}

	// Don't duplicate an explicit filter on the caller's own shop. Raw SQL and
	// other shops never count, so a requested shop id cannot replace the scope.
	if whereHasShopID(db.Statement.Clauses["WHERE"], shopID) {
		return
	}

	var exprs []clause.Expression
	if shopID != "" {
		exprs = append(exprs, clause.Eq{
			Column: clause.Column{Table: db.Statement.Table, Name: "shop_id"},
			Value:  shopID,
		})
	}
	if profileID != "" {
		exprs = append(exprs, clause.Eq{
			Column: clause.Column{Table: db.Statement.Table, Name: "created_by"},
			Value:  profileID,
		})
	}
	scope := clause.Or(exprs...)
	// Group the existing conditions so a top-level Or cannot escape the scope.
	if c, ok := db.Statement.Clauses["WHERE"]; ok {
		if w, ok := c.Expression.(clause.Where); ok && len(w.Exprs) > 0 {
			c.Expression = clause.Where{Exprs: []clause.Expression{clause.And(w.Exprs...), scope}}
			db.Statement.Clauses["WHERE"] = c
			return
		}
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{scope}})
}

func shouldBypassShopScope(ctx context.Context) bool {
	if v, ok := appctx.GetBool(ctx, appctx.ContextKeySkipShopScope); ok && v {
		return true
	}
	if v, ok := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin); ok && v {
		return true
	}
	return false
}

// whereHasShopID reports whether the WHERE clause already pins the caller's
// own shop.
func whereHasShopID(c clause.Clause, shopID string) bool {
	if c.Expression == nil || shopID == "" {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	found := false
	for _, e := range w.Exprs {
		// A top-level Or joins the whole clause with OR.
		if _, isOr := e.(clause.OrConditions); isOr {
			return false
		}
		if exprHasShopID(e, shopID) {
			found = true
		}
	}
	return found
}

func exprHasShopID(e clause.Expression, shopID string) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsShopID(v.Column) && v.Value == shopID
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasShopID(x, shopID) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func colIsShopID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "shop_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "shop_id")
	default:
		return false
	}
}
