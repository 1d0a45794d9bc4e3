package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用运行所需的全部配置
type Config struct {
	Port     string
	DBDriver string // postgres 或 sqlite
	DSN      string

	SessionSecret string
	JWTSecret     string
	JWTTTL        time.Duration
	SiteURL       string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	LogLevel  string
	LogFormat string

	LeaseTTL        time.Duration
	CommentMaxDepth int
	FeedMaxLimit    int

	RateJoinPerMin   int
	RateInvitePerMin int
	RateEventPerMin  int
	RatePostPerMin   int
}

// MailEnabled SMTP 配置齐全时才发送邮件
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPPort > 0 && c.SMTPUser != "" && c.SMTPPass != "" && c.SMTPFrom != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("database_url", "host=localhost user=postgres password=postgres dbname=townsquare port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("session_secret", "secret_key_change_me")
	v.SetDefault("jwt_secret", "jwt_secret_change_me")
	v.SetDefault("jwt_ttl", "72h")
	v.SetDefault("site_url", "http://localhost:8080")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("lease_ttl", "2m")
	v.SetDefault("comment_max_depth", 5)
	v.SetDefault("feed_max_limit", 50)
	v.SetDefault("rate_join_per_min", 10)
	v.SetDefault("rate_invite_per_min", 20)
	v.SetDefault("rate_event_per_min", 5)
	v.SetDefault("rate_post_per_min", 10)
}

// Load 按顺序加载配置：.env -> config.yaml -> 环境变量（环境变量优先）
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, reading config from environment")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:             v.GetString("port"),
		DBDriver:         strings.ToLower(v.GetString("db_driver")),
		DSN:              v.GetString("database_url"),
		SessionSecret:    v.GetString("session_secret"),
		JWTSecret:        v.GetString("jwt_secret"),
		JWTTTL:           v.GetDuration("jwt_ttl"),
		SiteURL:          strings.TrimSuffix(v.GetString("site_url"), "/"),
		SMTPHost:         v.GetString("smtp_host"),
		SMTPPort:         v.GetInt("smtp_port"),
		SMTPUser:         v.GetString("smtp_user"),
		SMTPPass:         v.GetString("smtp_pass"),
		SMTPFrom:         v.GetString("smtp_from"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		LeaseTTL:         v.GetDuration("lease_ttl"),
		CommentMaxDepth:  v.GetInt("comment_max_depth"),
		FeedMaxLimit:     v.GetInt("feed_max_limit"),
		RateJoinPerMin:   v.GetInt("rate_join_per_min"),
		RateInvitePerMin: v.GetInt("rate_invite_per_min"),
		RateEventPerMin:  v.GetInt("rate_event_per_min"),
		RatePostPerMin:   v.GetInt("rate_post_per_min"),
	}

	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.CommentMaxDepth < 1 {
		return nil, fmt.Errorf("COMMENT_MAX_DEPTH must be positive, got %d", cfg.CommentMaxDepth)
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("LEASE_TTL must be positive")
	}
	return cfg, nil
}
