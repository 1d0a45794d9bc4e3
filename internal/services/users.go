package services

import (
	"context"
	"errors"
	"strings"

	"townsquare/internal/models"
	"townsquare/internal/utils"

	"gorm.io/gorm"
)

type UserService struct {
	*core
}

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := check(in); err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", in.Email).Count(&count).Error; err != nil {
		return nil, Internal("check email", err)
	}
	if count > 0 {
		return nil, Conflict("This email is already registered")
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, Internal("hash password", err)
	}
	user := &models.User{
		Username: in.Username,
		Email:    in.Email,
		Password: hash,
		Avatar:   utils.RandomAvatar(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, Internal("create user", err)
	}

	s.mail.SendWelcome(user.Email, user.Username)
	return user, nil
}

// Authenticate 邮箱或密码错误返回同一条提示
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !utils.CheckPassword(user.Password, password)) {
		return nil, Unauthorized("Invalid email or password")
	}
	if err != nil {
		return nil, Internal("load user", err)
	}
	return &user, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("User not found")
		}
		return nil, Internal("load user", err)
	}
	return &user, nil
}

type ProfileInput struct {
	Username string `json:"username" validate:"required,min=2,max=50"`
	Bio      string `json:"bio" validate:"max=200"`
	Avatar   string `json:"avatar" validate:"max=16"`
}

// UpdateProfile 头像留空时保持原样
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, in ProfileInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Bio = strings.TrimSpace(in.Bio)
	if err := check(in); err != nil {
		return nil, err
	}
	updates := map[string]any{"username": in.Username, "bio": in.Bio, "updated_at": s.now()}
	if in.Avatar != "" {
		updates["avatar"] = in.Avatar
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return nil, Internal("update profile", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, NotFound("User not found")
	}
	return s.Get(ctx, userID)
}
