package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consogab/config"
	"consogab/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RegisterUser 用户注册
func RegisterUser(ctx context.Context, username, password, displayName string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	var existing models.User
	err := config.DB.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return models.User{}, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{
		Username:    username,
		Password:    string(hashed),
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := config.DB.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.User{}, ErrUserExists
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate 用户登录
func Authenticate(ctx context.Context, username, password string) (models.User, error) {
	var user models.User
	if err := config.DB.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	now := Now()
	user.LastLogin = &now
	if err := config.DB.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		return models.User{}, fmt.Errorf("update last login: %w", err)
	}
	return user, nil
}

func GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := config.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

// ResolveProfiles looks up the profiles of ids in one query. Unknown ids
// are absent from the result.
func ResolveProfiles(ctx context.Context, ids []string) (map[string]ProfileView, error) {
	out := make(map[string]ProfileView, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := config.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("resolve profiles: %w", err)
	}
	for _, u := range users {
		out[u.ID] = profileView(u)
	}
	return out, nil
}

// CreateBusiness registers a business page owned by ownerID.
func CreateBusiness(ctx context.Context, ownerID, name, logoURL, category string) (models.Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Business{}, fmt.Errorf("%w: business name is empty", ErrInvalidInput)
	}
	b := models.Business{OwnerID: ownerID, Name: name, LogoURL: logoURL, Category: category}
	if err := config.DB.WithContext(ctx).Create(&b).Error; err != nil {
		return models.Business{}, fmt.Errorf("create business: %w", err)
	}
	return b, nil
}
