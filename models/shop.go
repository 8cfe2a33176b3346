package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Shop struct {
	ID        string    `gorm:"primaryKey;type:char(36)" json:"id"`
	Name      string    `gorm:"size:150;not null" json:"name"`
	Address   string    `gorm:"type:text" json:"address"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Email     string    `gorm:"size:100" json:"email"`
	OwnerId   string    `gorm:"type:char(36);index;not null" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShop struct {
	Name    string `json:"name" validate:"required,max=150"`
	Address string `json:"address"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func (Shop) CollectionName() string { return "shops" }
func (s Shop) RecordId() string     { return s.ID }
func (s Shop) RecordShopId() string { return s.ID }

func (s Shop) GetShopId() string { return s.ID }

// CreateShop registers a shop. The creator becomes its owner with an approved
// admin membership.
func CreateShop(ctx context.Context, input *NewShop) (*Shop, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("invalid shop input")
	}

	shop := Shop{
		ID:      uuid.NewString(),
		Name:    input.Name,
		Address: strings.TrimSpace(input.Address),
		Email:   strings.ToLower(strings.TrimSpace(input.Email)),
		OwnerId: profileId,
	}
	if input.Phone != "" {
		shop.Phone = utils.FormatPhoneNumber(input.Phone, utils.CountryCode)
	}

	membership := ShopMembership{
		ID:        uuid.NewString(),
		ShopId:    shop.ID,
		ProfileId: profileId,
		Role:      UserRoleAdmin,
		Status:    MembershipStatusApproved,
	}

	err := InsertRecord(ctx, &shop, func(tx *gorm.DB) error {
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}
		return setProfileShop(tx, profileId, &shop.ID)
	})
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

func GetShop(ctx context.Context, id string) (*Shop, error) {
	return GetResource[Shop](ctx, id)
}

// ListShops returns every shop ordered by name; used for browsing before joining.
func ListShops(ctx context.Context, name *string) ([]*Shop, error) {
	db := config.GetDB()
	var results []*Shop
	dbCtx := db.WithContext(ctx).Model(&Shop{})
	if name != nil && *name != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func UpdateShop(ctx context.Context, id string, input *NewShop) (*Shop, error) {
	shop, err := GetShop(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireShopManager(ctx, shop); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("invalid shop input")
	}

	fields := map[string]interface{}{
		"name":    input.Name,
		"address": strings.TrimSpace(input.Address),
		"email":   strings.ToLower(strings.TrimSpace(input.Email)),
		"phone":   utils.FormatPhoneNumber(input.Phone, utils.CountryCode),
	}
	if input.Phone == "" {
		fields["phone"] = ""
	}
	if err := UpdateRecordFields[Shop](ctx, id, fields); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Shop](id); err != nil {
		return nil, err
	}
	return GetShop(ctx, id)
}

// requireShopManager allows platform admins, the shop owner and approved shop admins.
func requireShopManager(ctx context.Context, shop *Shop) error {
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
		return nil
	}
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return utils.ErrorUnauthorized
	}
	if shop.OwnerId == profileId {
		return nil
	}
	m, err := findMembership(ctx, shop.ID, profileId)
	if err != nil {
		return err
	}
	if m != nil && m.Status == MembershipStatusApproved && m.Role == UserRoleAdmin {
		return nil
	}
	return utils.ErrorForbidden
}
