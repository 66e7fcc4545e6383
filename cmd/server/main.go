package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"momo-wallet/internal/config"
	"momo-wallet/internal/domain"
	apphttp "momo-wallet/internal/http"
	"momo-wallet/internal/repository/sqlite"
	"momo-wallet/internal/service"
	"momo-wallet/internal/session"
	"momo-wallet/internal/settlement"
	"momo-wallet/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	txRepo := sqlite.NewTransactionRepository(db)
	providerRepo := sqlite.NewProviderRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := txRepo.Init(ctx); err != nil {
		logger.Fatalf("init transaction repository: %v", err)
	}
	if err := providerRepo.Init(ctx); err != nil {
		logger.Fatalf("init provider repository: %v", err)
	}
	if err := providerRepo.Seed(ctx, domain.DefaultProviders()); err != nil {
		logger.Fatalf("seed providers: %v", err)
	}

	userService := service.NewUserService(userRepo)
	walletService := service.NewWalletService(userRepo, txRepo)
	sessions := session.NewManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	unsubscribe := sessions.Subscribe(func(user *session.AuthUser) {
		if user == nil {
			logger.Info("auth state changed: signed out")
			return
		}
		logger.Infof("auth state changed: %s signed in", user.Email)
	})
	defer unsubscribe()

	receipts, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	manager := settlement.NewManager(settlement.Config{
		SettleDelay:   time.Duration(cfg.Settlement.DelaySeconds) * time.Second,
		MaxConcurrent: cfg.Settlement.MaxConcurrent,
		Logger:        logger,
	}, walletService, receipts)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start settlement manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume pending settlements: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, walletService, providerRepo, sessions, manager, receipts)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, receipt archival disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving receipts to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, storage.Options{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}), nil
}
