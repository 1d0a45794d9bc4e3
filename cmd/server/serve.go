package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"townsquare/internal/chat"
	"townsquare/internal/jobs"
	"townsquare/internal/lease"
	"townsquare/internal/router"
	"townsquare/internal/services"
	"townsquare/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, conn, err := bootstrap()
	if err != nil {
		return err
	}
	if strings.ToLower(cfg.LogLevel) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	var mailer services.Mailer
	if cfg.MailEnabled() {
		mailer = services.NewSMTPMailer(cfg)
	} else {
		slog.Warn("SMTP not configured, outgoing email disabled")
	}
	mail := services.NewMailService(mailer, cfg.SiteURL, false)

	limiter := services.NewLimiter(map[string]int{
		services.ActionJoin:        cfg.RateJoinPerMin,
		services.ActionInvite:      cfg.RateInvitePerMin,
		services.ActionCreateEvent: cfg.RateEventPerMin,
		services.ActionCreatePost:  cfg.RatePostPerMin,
	})
	leases := lease.NewManager(conn)
	hub := chat.NewHub()

	svc := services.New(services.Options{
		DB:              conn,
		Mail:            mail,
		Cache:           utils.GetCache(),
		Limiter:         limiter,
		Leases:          leases,
		Publisher:       hub,
		SiteURL:         cfg.SiteURL,
		CommentMaxDepth: cfg.CommentMaxDepth,
		FeedMaxLimit:    cfg.FeedMaxLimit,
		LeaseTTL:        cfg.LeaseTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go svc.Ranking.Run(ctx)

	scheduler := jobs.New(svc, leases, limiter)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	engine, err := router.New(router.Deps{
		Services:      svc,
		Hub:           hub,
		Tokens:        utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Captcha:       services.NewCaptchaService(),
		SessionSecret: cfg.SessionSecret,
		SiteURL:       cfg.SiteURL,
		SecureCookie:  strings.HasPrefix(cfg.SiteURL, "https://"),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Townsquare server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	mail.Wait()
	return nil
}
