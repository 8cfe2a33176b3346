package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Profile struct {
	ID        string    `gorm:"primaryKey;type:char(36)" json:"id"`
	Email     string    `gorm:"size:100;not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Phone     string    `gorm:"size:20" json:"phone"`
	AvatarUrl string    `json:"avatar_url"`
	Password  string    `gorm:"size:255;not null" json:"password,omitempty"`
	Role      UserRole  `gorm:"size:20;not null;default:'mechanic'" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	ShopId    *string   `gorm:"type:char(36);index" json:"shop_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProfile struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password" validate:"required,min=8"`
}

type ProfileUpdate struct {
	Name      *string `json:"name" validate:"omitempty,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,phone"`
	AvatarUrl *string `json:"avatar_url"`
	Password  *string `json:"password" validate:"omitempty,min=8"`
}

type LoginInfo struct {
	Token   string   `json:"token"`
	Profile *Profile `json:"profile"`
}

/*
caches:
	Profile:$id
	Token:$token   -> profile id
	Tokens:$id     set of live tokens
*/

func (Profile) CollectionName() string { return "profiles" }
func (p Profile) RecordId() string     { return p.ID }
func (p Profile) RecordShopId() string { return utils.DereferencePtr(p.ShopId) }

func (p Profile) GetShopId() string {
	return utils.DereferencePtr(p.ShopId)
}

func (p Profile) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

func (result *Profile) PrepareGive() {
	result.Password = ""
}

func (p Profile) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[Profile](p.ID)
}

// Register creates a mechanic profile.
func Register(ctx context.Context, input *NewProfile) (*Profile, error) {
	return createProfile(ctx, input, UserRoleMechanic)
}

// CreateProfileWithRole is used by tooling (seed-admin).
func CreateProfileWithRole(ctx context.Context, input *NewProfile, role UserRole) (*Profile, error) {
	if !role.IsValid() {
		return nil, utils.InvalidInput("invalid role")
	}
	return createProfile(ctx, input, role)
}

func createProfile(ctx context.Context, input *NewProfile, role UserRole) (*Profile, error) {
	db := config.GetDB()

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("invalid profile input")
	}
	if err := utils.ValidateUnique[Profile](ctx, "", "email", input.Email, nil); err != nil {
		return nil, utils.InvalidInput("duplicate email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	profile := Profile{
		ID:       uuid.NewString(),
		Email:    input.Email,
		Name:     html.EscapeString(strings.TrimSpace(input.Name)),
		Password: string(hashedPassword),
		Role:     role,
		IsActive: utils.NewTrue(),
	}
	if input.Phone != "" {
		profile.Phone = utils.FormatPhoneNumber(input.Phone, utils.CountryCode)
	}

	if err := db.WithContext(ctx).Create(&profile).Error; err != nil {
		return nil, err
	}
	profile.PrepareGive()
	return &profile, nil
}

func Login(ctx context.Context, email string, password string) (*LoginInfo, error) {
	db := config.GetDB()

	var profile Profile
	email = strings.ToLower(strings.TrimSpace(email))
	if err := db.WithContext(ctx).Where("email = ?", email).Take(&profile).Error; err != nil {
		return nil, utils.InvalidInput("invalid email or password")
	}

	if err := utils.ComparePassword(profile.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, utils.InvalidInput("invalid email or password")
		}
		return nil, err
	}
	if !profile.Active() {
		return nil, utils.InvalidInput("profile is disabled")
	}

	token, err := utils.JwtGenerate(profile.ID, string(profile.Role))
	if err != nil {
		return nil, err
	}

	// add new token to the profile's token set
	if err := config.AddRedisSet("Tokens:"+profile.ID, token); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+token, profile.ID, utils.TokenLifespan()); err != nil {
		return nil, err
	}

	profile.PrepareGive()
	return &LoginInfo{Token: token, Profile: &profile}, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, utils.ErrorUnauthorized
	}
	if err := config.RemoveRedisKey("Token:" + token); err != nil {
		return false, err
	}
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return false, utils.ErrorUnauthorized
	}
	if err := config.RemoveRedisSetMember("Tokens:"+profileId, token); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeSessions drops every live token of a profile.
func RevokeSessions(profileId string) error {
	tokens, err := config.GetRedisSetMembers("Tokens:" + profileId)
	if err != nil {
		return err
	}
	keys := []string{"Tokens:" + profileId}
	for _, t := range tokens {
		keys = append(keys, "Token:"+t)
	}
	return config.RemoveRedisKey(keys...)
}

// GetSessionProfile resolves a session token to an active profile.
func GetSessionProfile(ctx context.Context, token string) (*Profile, error) {
	profileId, exists, err := config.GetRedisValue("Token:" + token)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, utils.ErrorUnauthorized
	}
	if _, err := utils.JwtValidate(token); err != nil {
		_ = config.RemoveRedisKey("Token:" + token)
		return nil, utils.ErrorUnauthorized
	}
	profile, err := GetProfile(ctx, profileId)
	if err != nil {
		return nil, utils.ErrorUnauthorized
	}
	if !profile.Active() {
		return nil, utils.ErrorUnauthorized
	}
	return profile, nil
}

// GetProfile reads through the Profile:$id cache.
func GetProfile(ctx context.Context, id string) (*Profile, error) {
	return GetResource[Profile](ctx, id, (*Profile).PrepareGive)
}

func GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	db := config.GetDB()
	var p Profile
	if err := db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&p).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	p.PrepareGive()
	return &p, nil
}

// GetProfilesByIds is the batch function behind the profile dataloader.
func GetProfilesByIds(ctx context.Context, ids []string) ([]*Profile, error) {
	db := config.GetDB()
	var results []*Profile
	if err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(ids)).Find(&results).Error; err != nil {
		return nil, err
	}
	for _, p := range results {
		p.PrepareGive()
	}
	return results, nil
}

func ListProfiles(ctx context.Context, role *UserRole) ([]*Profile, error) {
	db := config.GetDB()
	var results []*Profile
	dbCtx := db.WithContext(ctx).Model(&Profile{})
	if role != nil {
		dbCtx = dbCtx.Where("role = ?", *role)
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	for _, p := range results {
		p.PrepareGive()
	}
	return results, nil
}

func UpdateProfile(ctx context.Context, id string, input *ProfileUpdate) (*Profile, error) {
	db := config.GetDB()
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("invalid profile input")
	}

	fields := map[string]interface{}{}
	if input.Name != nil {
		fields["name"] = html.EscapeString(strings.TrimSpace(*input.Name))
	}
	if input.Phone != nil {
		phone := strings.TrimSpace(*input.Phone)
		if phone != "" {
			phone = utils.FormatPhoneNumber(phone, utils.CountryCode)
		}
		fields["phone"] = phone
	}
	if input.AvatarUrl != nil {
		fields["avatar_url"] = *input.AvatarUrl
	}
	if input.Password != nil {
		hashed, err := utils.HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		fields["password"] = string(hashed)
	}
	if len(fields) == 0 {
		return GetProfile(ctx, id)
	}

	res := db.WithContext(ctx).Model(&Profile{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	if err := utils.RemoveRedisItem[Profile](id); err != nil {
		return nil, err
	}
	return GetProfile(ctx, id)
}

// SetProfileRole changes a profile's platform role (admin only).
func SetProfileRole(ctx context.Context, id string, role UserRole) (*Profile, error) {
	if !role.IsValid() {
		return nil, utils.InvalidInput("invalid role")
	}
	return updateProfileAudited(ctx, id, "ROLE", "changed role to "+string(role), map[string]interface{}{"role": role})
}

// ToggleActiveProfile enables or disables a profile; disabling revokes its sessions.
func ToggleActiveProfile(ctx context.Context, id string, isActive bool) (*Profile, error) {
	actionType := "*INACTIVE*"
	if isActive {
		actionType = "*ACTIVE*"
	}
	p, err := updateProfileAudited(ctx, id, actionType, "toggled Profile", map[string]interface{}{"is_active": isActive})
	if err != nil {
		return nil, err
	}
	if !isActive {
		if err := RevokeSessions(id); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func updateProfileAudited(ctx context.Context, id string, actionType string, description string, fields map[string]interface{}) (*Profile, error) {
	db := config.GetDB()
	before, err := GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Profile{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return err
		}
		return createHistory(tx, actionType, id, "profiles", before, fields, description)
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Profile](id); err != nil {
		return nil, err
	}
	return GetProfile(ctx, id)
}

// setProfileShop points a profile at its current shop, inside tx.
func setProfileShop(tx *gorm.DB, profileId string, shopId *string) error {
	if err := tx.Model(&Profile{}).Where("id = ?", profileId).Update("shop_id", shopId).Error; err != nil {
		return err
	}
	return utils.RemoveRedisItem[Profile](profileId)
}
