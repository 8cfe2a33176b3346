package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"gorm.io/gorm"
)

// History is the audit trail for administrative actions (roles, memberships, tickets).
type History struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ShopId        string    `gorm:"size:36;index" json:"shop_id"`
	ActionType    string    `gorm:"size:20;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   string    `gorm:"size:36;index" json:"reference_id"`
	ReferenceType string    `gorm:"size:50" json:"reference_type"`
	ProfileId     string    `gorm:"size:36;index;not null" json:"profile_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType string,
	referenceId string,
	referenceType string,
	before interface{},
	after interface{},
	description string) (err error) {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return errors.New("profile id is required")
	}
	userName, _ := utils.GetUserNameFromContext(ctx)
	shopId, _ := utils.GetShopIdFromContext(ctx)

	history.ShopId = shopId
	history.ActionType = actionType
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.ProfileId = profileId
	history.UserName = userName

	return tx.Create(&history).Error
}

// ListHistory returns audit entries of one record, newest first.
func ListHistory(ctx context.Context, referenceType string, referenceId string) ([]*History, error) {
	db := config.GetDB()
	var results []*History
	err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
