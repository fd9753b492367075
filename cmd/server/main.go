package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loomtrack/issues/internal/auth"
	"github.com/loomtrack/issues/internal/config"
	"github.com/loomtrack/issues/internal/handler"
	"github.com/loomtrack/issues/internal/remote"
	"github.com/loomtrack/issues/internal/repository"
	"github.com/loomtrack/issues/internal/service"
	"github.com/loomtrack/issues/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// store adapts the repository to the service layer's transaction interface.
type store struct {
	*repository.DB
}

func (s store) InTx(ctx context.Context, fn func(tx service.Tx) error) error {
	return s.DB.InTx(ctx, func(tx *repository.Tx) error {
		return fn(tx)
	})
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	verifier := auth.NewTokenVerifier(cfg.JWTSecret)

	projects := remote.NewProjectClient(cfg.ProjectServiceURL, cfg.RemoteTimeout)
	users := remote.NewUserClient(cfg.UserServiceURL, cfg.RemoteTimeout)
	audit := remote.NewAuditClient(cfg.AuditServiceURL, cfg.RemoteTimeout)
	notifier := remote.NewNotificationClient(cfg.NotificationServiceURL, cfg.RemoteTimeout)
	blobs := storage.NewFileStore(cfg.UploadDir, cfg.UploadAccessURL)

	repo := store{repository.NewDB(db)}
	effects := service.NewSideEffects(audit, notifier, blobs)
	issueSvc := service.NewIssueService(repo, projects, users, effects)
	relationSvc := service.NewRelationService(repo, projects, users, effects)

	issueHandler := handler.NewIssueHandler(issueSvc)
	relationHandler := handler.NewRelationHandler(relationSvc)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(handler.RequestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.Static("/files", cfg.UploadDir)

	api := e.Group("/api/issues")

	api.POST("", issueHandler.Create,
		handler.RequirePermission(verifier, auth.PermIssueCreate))
	api.POST("/batch", issueHandler.CreateBatch,
		handler.RequirePermission(verifier, auth.PermIssueCreate, auth.PermImportProject))
	api.GET("/search", issueHandler.Search,
		handler.RequirePermission(verifier, auth.PermIssueRead))
	api.GET("/validate/:id", issueHandler.Validate,
		handler.RequirePermission(verifier, auth.PermCommentCreate))
	api.GET("/:id", issueHandler.Get,
		handler.RequirePermission(verifier, auth.PermIssueRead))
	api.PUT("/:id", issueHandler.Update,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	api.DELETE("/batch", issueHandler.DeleteBatch,
		handler.RequirePermission(verifier, auth.PermIssueDelete))
	api.DELETE("/:id", issueHandler.Delete,
		handler.RequirePermission(verifier, auth.PermIssueDelete))
	api.PATCH("/assign/:id", issueHandler.Assign,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	api.POST("/sprint/assign", issueHandler.AssignSprint,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	api.POST("/sprint/remove", issueHandler.RemoveSprint,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	api.POST("/:id/descriptions/:descID/files", issueHandler.AddFiles,
		handler.RequirePermission(verifier, auth.PermIssueCreate, auth.PermIssueUpdate))

	rel := e.Group("/api/issues/relations")

	rel.POST("/:parentID/subtasks", relationHandler.CreateSubtask,
		handler.RequirePermission(verifier, auth.PermIssueCreate, auth.PermIssueUpdate))
	rel.GET("/:parentID/subtasks", relationHandler.Subtasks,
		handler.RequirePermission(verifier, auth.PermIssueRead))
	rel.POST("/:sourceID/related/:targetID", relationHandler.Relate,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	rel.POST("/:sourceID/related", relationHandler.RelateMany,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	rel.DELETE("/:sourceID/unrelate/:targetID", relationHandler.Unrelate,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	rel.DELETE("/:sourceID/unrelate", relationHandler.UnrelateMany,
		handler.RequirePermission(verifier, auth.PermIssueUpdate))
	rel.GET("/:id/related", relationHandler.Related,
		handler.RequirePermission(verifier, auth.PermIssueRead))
	rel.GET("/:id/related-to", relationHandler.RelatedTo,
		handler.RequirePermission(verifier, auth.PermIssueRead))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
