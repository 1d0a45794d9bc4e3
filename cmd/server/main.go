package main

import (
	"fmt"
	"log/slog"
	"os"

	"townsquare/internal/config"
	"townsquare/internal/db"
	"townsquare/internal/logging"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	seedEmail    string
	seedPassword string

	rootCmd = &cobra.Command{
		Use:   "townsquare",
		Short: "Community platform server",
		Long: `Townsquare serves communities with forum posts, events,
shared documents and chat channels.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, chat hub and scheduled jobs",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Create the admin account and default communities",
		RunE:  runSeed,
	}
)

func init() {
	seedCmd.Flags().StringVar(&seedEmail, "email", "admin@example.com", "admin account email")
	seedCmd.Flags().StringVar(&seedPassword, "password", "", "admin account password (required)")
	_ = seedCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap 加载配置、初始化日志并打开数据库（含迁移）
func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	conn, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn); err != nil {
		return nil, nil, err
	}
	return cfg, conn, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, _, err := bootstrap()
	return err
}

func runSeed(cmd *cobra.Command, args []string) error {
	_, conn, err := bootstrap()
	if err != nil {
		return err
	}
	if len(seedPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if err := db.Seed(conn, seedEmail, seedPassword); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	slog.Info("Seed completed", "admin", seedEmail)
	return nil
}
