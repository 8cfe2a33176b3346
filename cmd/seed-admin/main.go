// seed-admin creates or updates a platform admin profile.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	ADMIN_EMAIL=admin@example.com ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"gorm.io/gorm"
)

const defaultAdminName = "Shop Admin"

func main() {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	password := os.Getenv("ADMIN_PASSWORD")
	name := strings.TrimSpace(os.Getenv("ADMIN_NAME"))
	if name == "" {
		name = defaultAdminName
	}
	if email == "" || len(password) < 8 {
		fmt.Fprintln(os.Stderr, "ADMIN_EMAIL and ADMIN_PASSWORD (8+ characters) are required.")
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.MigrateTable(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipShopScopeInContext(ctx, true)

	var existing models.Profile
	err := db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile, err := models.CreateProfileWithRole(ctx, &models.NewProfile{
			Email:    email,
			Name:     name,
			Password: password,
		}, models.UserRoleAdmin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin profile: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin profile: email=%q id=%s\n", email, profile.ID)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup profile: %v\n", err)
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	if err := db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"password":  string(hashed),
		"name":      name,
		"is_active": utils.NewTrue(),
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin profile: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin profile: email=%q id=%s\n", email, existing.ID)
}
