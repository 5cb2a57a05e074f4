package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"outreach/automation"
	"outreach/models"
	"outreach/utils"
)

var ErrNoCredentials = errors.New("user has no outreach account configured")

// CredentialRepository resolves and stores the outreach account of a user
type CredentialRepository struct {
	db     *gorm.DB
	secret string
}

func NewCredentialRepository(db *gorm.DB, secret string) *CredentialRepository {
	return &CredentialRepository{db: db, secret: secret}
}

func (r *CredentialRepository) Credentials(ctx context.Context, userID uint) (automation.Credentials, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id", "account_username", "account_password", "is_active").
		Where("id = ?", userID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return automation.Credentials{}, ErrNotFound
	}
	if err != nil {
		return automation.Credentials{}, err
	}
	if user.AccountUsername == "" || user.AccountPassword == "" {
		return automation.Credentials{}, ErrNoCredentials
	}

	password, err := utils.DecryptWithKey(r.secret, user.AccountPassword)
	if err != nil {
		return automation.Credentials{}, fmt.Errorf("decrypt account password: %w", err)
	}

	return automation.Credentials{
		UserID:   user.ID,
		Username: user.AccountUsername,
		Password: password,
	}, nil
}

// SetCredentials encrypts and stores the outreach account of a user
func (r *CredentialRepository) SetCredentials(ctx context.Context, userID uint, username, password string) error {
	sealed, err := utils.EncryptWithKey(r.secret, password)
	if err != nil {
		return fmt.Errorf("encrypt account password: %w", err)
	}
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"account_username": username,
			"account_password": sealed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
