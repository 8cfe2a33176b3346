package config

import (
	"context"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/motoshop_backend/appctx"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type guardedJob struct {
	ID        string
	ShopId    string
	CreatedBy string
}

func (guardedJob) TableName() string { return "guarded_jobs" }

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "motoshop:motoshop@tcp(127.0.0.1:3306)/motoshop?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open dry run db: %v", err)
	}
	if err := db.Use(NewShopGuardPlugin()); err != nil {
		t.Fatalf("register shop guard: %v", err)
	}
	RegisterShopScopedTable("guarded_jobs")
	return db
}

func callerContext(shopId, profileId string) context.Context {
	ctx := appctx.Set(context.Background(), appctx.ContextKeyShopId, shopId)
	return appctx.Set(ctx, appctx.ContextKeyProfileId, profileId)
}

func hasVar(vars []interface{}, want string) bool {
	for _, v := range vars {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}

func TestShopGuardScopesQueries(t *testing.T) {
	db := dryRunDB(t)
	ctx := callerContext("shop-a", "mech-a")

	tests := []struct {
		name      string
		query     func(tx *gorm.DB) *gorm.DB
		wantScope bool
		wantSQL   string
	}{
		{name: "no filter", query: func(tx *gorm.DB) *gorm.DB { return tx }, wantScope: true},
		{name: "raw filter on another shop", query: func(tx *gorm.DB) *gorm.DB {
			return tx.Where("guarded_jobs.shop_id = ?", "shop-b")
		}, wantScope: true},
		{name: "structured filter on another shop", query: func(tx *gorm.DB) *gorm.DB {
			return tx.Where(map[string]interface{}{"shop_id": "shop-b"})
		}, wantScope: true},
		{name: "own shop or anything", query: func(tx *gorm.DB) *gorm.DB {
			return tx.Where(map[string]interface{}{"shop_id": "shop-a"}).Or("1 = 1")
		}, wantScope: true, wantSQL: "OR 1 = 1) AND ("},
		{name: "own shop", query: func(tx *gorm.DB) *gorm.DB {
			return tx.Where(map[string]interface{}{"shop_id": "shop-a"})
		}, wantScope: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows []guardedJob
			stmt := tt.query(db.WithContext(ctx)).Find(&rows).Statement
			sql := stmt.SQL.String()
			scoped := strings.Contains(sql, "`guarded_jobs`.`created_by` = ?") && hasVar(stmt.Vars, "mech-a")
			if scoped != tt.wantScope {
				t.Fatalf("scoped = %v, want %v: %s %v", scoped, tt.wantScope, sql, stmt.Vars)
			}
			if tt.wantSQL != "" && !strings.Contains(sql, tt.wantSQL) {
				t.Fatalf("sql %q does not contain %q", sql, tt.wantSQL)
			}
		})
	}
}

func TestShopGuardBypass(t *testing.T) {
	db := dryRunDB(t)
	ctx := appctx.Set(callerContext("shop-a", "mech-a"), appctx.ContextKeyIsAdmin, true)

	var rows []guardedJob
	stmt := db.WithContext(ctx).Where("guarded_jobs.shop_id = ?", "shop-b").Find(&rows).Statement
	if sql := stmt.SQL.String(); strings.Contains(sql, "created_by") {
		t.Fatalf("admin query was scoped: %s", sql)
	}
}
