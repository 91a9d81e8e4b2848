package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rankgate/rankgate/internal/models"
	"github.com/rankgate/rankgate/internal/security"
	"gorm.io/gorm"
)

// Migrate runs database migrations.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.CallerStanding{},
		&models.BlockEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// EnsureAdmin seeds or updates the operator account from configuration.
// The stored password hash is refreshed when the configured password no
// longer matches.
func EnsureAdmin(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}

	var existing models.Admin
	errFind := conn.Where("username = ?", username).Take(&existing).Error
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		hashed, errHash := security.HashPassword(password)
		if errHash != nil {
			return fmt.Errorf("db: hash admin password: %w", errHash)
		}
		now := time.Now().UTC()
		admin := models.Admin{
			Username:  username,
			Password:  hashed,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errCreate := conn.Create(&admin).Error; errCreate != nil {
			return fmt.Errorf("db: create admin: %w", errCreate)
		}
		return nil
	case errFind != nil:
		return fmt.Errorf("db: find admin: %w", errFind)
	}

	if security.CheckPassword(existing.Password, password) {
		return nil
	}
	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("db: hash admin password: %w", errHash)
	}
	if errUpdate := conn.Model(&existing).
		Updates(map[string]any{"password": hashed, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		return fmt.Errorf("db: update admin: %w", errUpdate)
	}
	return nil
}
