package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/qcom/accounts/internal/config"
	"github.com/qcom/accounts/internal/handlers"
	"github.com/qcom/accounts/internal/middleware"
	"github.com/qcom/accounts/internal/notify"
	"github.com/qcom/accounts/internal/repository"
	"github.com/qcom/accounts/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const sweepLockKey = "accounts:reaper:lock"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(logger, &cfg.Log)

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	accountRepo := repository.NewAccountRepository(dynamoClient, cfg.DynamoDB.TableName, repository.Indexes{
		Email:      cfg.DynamoDB.EmailIndex,
		Phone:      cfg.DynamoDB.PhoneIndex,
		ResetToken: cfg.DynamoDB.ResetTokenIndex,
	}, logger)

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	gateway := notify.NewGateway(
		notify.NewEmailSender(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUser, cfg.Mail.SMTPPassword, cfg.Mail.FromEmail),
		notify.NewVoiceCaller(cfg.Voice.AccountSID, cfg.Voice.AuthToken, cfg.Voice.FromPhone, logger),
		cfg.Account.CodeTTL,
		logger,
	)

	accountService, err := service.NewAccountService(accountRepo, gateway, jwtService, &cfg.Account, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize account service")
	}

	var sweepLock service.Locker
	if cfg.Redis.Endpoint != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		sweepLock = repository.NewSweepLock(redisClient, sweepLockKey, logger)
	} else {
		logger.Warn("Redis endpoint not set, reaper runs without a sweep lock")
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := service.NewReaper(accountRepo, sweepLock, &cfg.Account, logger).Start(reaperCtx)

	authHandlers := handlers.NewAuthHandlers(accountService, logger)
	authMiddleware := middleware.NewAuthMiddleware(accountService, logger)
	router := handlers.NewRouter(authHandlers, authMiddleware, cfg.Server.CORSOrigins, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	stopReaper()
	<-reaperDone
	accountService.Wait()

	logger.Info("Server exited")
}

func configureLogger(logger *logrus.Logger, cfg *config.LogConfig) {
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithField("level", cfg.Level).Warn("Unknown log level, keeping info")
		return
	}
	logger.SetLevel(level)
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}
