package db

import (
	"fmt"
	"log/slog"
	"time"

	"townsquare/internal/config"
	"townsquare/internal/lease"
	"townsquare/internal/models"
	"townsquare/internal/utils"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 根据 DB_DRIVER 选择 postgres 或 sqlite
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		dialector = postgres.Open(cfg.DSN)
	}

	conn, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite 单写者
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	slog.Info("Database connection established", "driver", cfg.DBDriver)
	return conn, nil
}

// OpenSQLite 打开 sqlite 数据库并完成迁移，测试与本地开发使用
func OpenSQLite(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := conn.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Migrate 自动迁移全部模型
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.User{},
		&models.Community{},
		&models.Membership{},
		&models.Invite{},
		&models.Post{},
		&models.Comment{},
		&models.Vote{},
		&models.Notification{},
		&models.Channel{},
		&models.Message{},
		&models.Event{},
		&models.EventOrganizer{},
		&models.EventSession{},
		&models.RSVP{},
		&models.Document{},
		&models.DocumentVersion{},
		&lease.Lease{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("Database migration completed")
	return nil
}

// Seed 首次启动时创建管理员账号和默认社区
func Seed(conn *gorm.DB, adminEmail, adminPassword string) error {
	var count int64
	conn.Model(&models.Community{}).Count(&count)
	if count > 0 {
		slog.Info("Communities already seeded, skipping")
		return nil
	}

	hash, err := utils.HashPassword(adminPassword)
	if err != nil {
		return err
	}

	return conn.Transaction(func(tx *gorm.DB) error {
		admin := models.User{Username: "admin", Email: adminEmail, Password: hash}
		if err := tx.Where(models.User{Email: adminEmail}).FirstOrCreate(&admin).Error; err != nil {
			return err
		}

		communities := []models.Community{
			{Slug: "general", Name: "General", Description: "Anything goes", IsPublic: true, OwnerID: admin.ID},
			{Slug: "meta", Name: "Meta", Description: "Feedback about this site", IsPublic: true, OwnerID: admin.ID},
		}
		for i := range communities {
			if err := tx.Create(&communities[i]).Error; err != nil {
				return fmt.Errorf("create community %s: %w", communities[i].Slug, err)
			}
			membership := models.Membership{CommunityID: communities[i].ID, UserID: admin.ID, Role: models.RoleOwner}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
			channel := models.Channel{CommunityID: communities[i].ID, Name: "general"}
			if err := tx.Create(&channel).Error; err != nil {
				return err
			}
		}
		slog.Info("Initial communities created", "count", len(communities))
		return nil
	})
}
