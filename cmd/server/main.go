package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/risk-governor/internal/config"
	"github.com/risk-governor/internal/exchange"
	"github.com/risk-governor/internal/exchange/binance"
	"github.com/risk-governor/internal/handler"
	"github.com/risk-governor/internal/logger"
	"github.com/risk-governor/internal/middleware"
	"github.com/risk-governor/internal/report"
	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server exited properly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	gin.SetMode(cfg.Server.Mode)

	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	rdb := initRedis(cfg, log)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis connection", zap.Error(err))
			}
		}()
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	journalRepo := repository.NewJournalRepository(db)

	// Services
	var events service.EventPublisher = service.NopPublisher{}
	if rdb != nil {
		events = service.NewRedisEventPublisher(rdb, log.Named("events"))
	}

	var feed exchange.PriceProvider
	if cfg.Market.Feed == "binance" {
		feed = binance.NewClient(log)
	}
	priceService := service.NewPriceService(rdb, feed, cfg.Market.Symbols, cfg.Market.PriceTTL, log)

	book := service.NewLedgerBook(accountRepo, service.RetryPolicy{
		Retries: cfg.Risk.StoreRetries,
		Backoff: cfg.Risk.StoreRetryBackoff,
	})
	estimator := service.NewEstimator(risk.NewSurvivalModel(), tradeRepo, service.EstimatorConfig{
		Retries: cfg.Risk.ModelRetries,
		Backoff: cfg.Risk.ModelRetryBackoff,
		Timeout: cfg.Risk.ModelTimeout,
	}, log)
	tradingService := service.NewTradingService(book, tradeRepo, priceService, estimator, events, service.TradingConfig{
		Policy: risk.Policy{
			SurvivalRunwayDays: cfg.Risk.SurvivalRunwayDays,
			SurvivalSizeFactor: cfg.Risk.SurvivalSizeFactor,
			FeeBufferRate:      cfg.Risk.FeeBufferRate,
		},
		ExecuteAttempts: cfg.Risk.ExecuteAttempts,
		PriceRetry: service.RetryPolicy{
			Retries: cfg.Risk.PriceRetries,
			Backoff: cfg.Risk.PriceRetryBackoff,
		},
	}, log)
	accountService := service.NewAccountService(accountRepo, book, estimator, events, service.AccountDefaults{
		Balance:         cfg.Risk.DefaultBalance,
		MaxDailyLoss:    cfg.Risk.DefaultMaxDailyLoss,
		MaxTradesPerDay: cfg.Risk.DefaultMaxTradesPerDay,
		Timezone:        cfg.Risk.DefaultTimezone,
	}, cfg.Risk.SurvivalRunwayDays, log)
	windowManager := service.NewWindowManager(book, accountRepo, events, log)
	journalService := service.NewJournalService(journalRepo, tradeRepo, service.KeywordAnalyzer{}, log)
	reportService := service.NewReportService(book, tradeRepo, report.NewPDFRenderer(cfg.Report.PDFTimeout, cfg.Report.ChromePath), log)
	authService := service.NewAuthService(userRepo, accountService, cfg.JWT, cfg.Auth)

	// Handlers
	authHandler := handler.NewAuthHandler(authService)
	accountHandler := handler.NewAccountHandler(accountService)
	tradingHandler := handler.NewTradingHandler(tradingService, reportService)
	journalHandler := handler.NewJournalHandler(journalService)
	priceHandler := handler.NewPriceHandler(priceService)
	adminHandler := handler.NewAdminHandler(accountService, windowManager, priceHandler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var authMiddleware gin.HandlerFunc
	if cfg.Auth.Enabled {
		authMiddleware = middleware.AuthMiddleware(authService)
	} else {
		if _, err := accountService.EnsureAccount(ctx, cfg.Auth.DefaultAccountID); err != nil {
			return fmt.Errorf("ensure default account: %w", err)
		}
		authMiddleware = middleware.SingleAccountMiddleware(cfg.Auth.DefaultAccountID)
		log.Warn("authentication disabled, all requests act on the default account",
			zap.Uint("account_id", cfg.Auth.DefaultAccountID))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLoggerMiddleware(log))
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"time":       time.Now().Unix(),
			"feeds":      priceService.Status(),
		})
	})

	v1 := router.Group("/api/v1")
	{
		if cfg.Auth.Enabled {
			authHandler.RegisterRoutes(v1)
		}
		accountHandler.RegisterRoutes(v1, authMiddleware)
		tradingHandler.RegisterRoutes(v1, authMiddleware)
		journalHandler.RegisterRoutes(v1, authMiddleware)
		priceHandler.RegisterRoutes(v1, authMiddleware)
		adminHandler.RegisterRoutes(v1, authMiddleware)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := priceService.Start(ctx); err != nil {
		log.Warn("failed to start price feed, falling back to REST and manual prices", zap.Error(err))
	}
	defer priceService.Stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting server", zap.String("addr", addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	exitMonitor := worker.NewExitMonitor(tradingService, cfg.Market.ExitCheckInterval, log)
	group.Go(func() error {
		exitMonitor.Start(ctx)
		return nil
	})

	if cfg.Rollover.Enabled {
		scheduler, err := worker.NewRolloverScheduler(ctx, windowManager, cfg.Rollover.Schedule, log)
		if err != nil {
			stop()
			_ = group.Wait()
			return fmt.Errorf("rollover schedule %q: %w", cfg.Rollover.Schedule, err)
		}
		scheduler.Sweep(ctx)
		scheduler.Start()
		group.Go(func() error {
			<-ctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	return group.Wait()
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := gormlogger.Default.LogMode(gormlogger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.Path)
	default:
		dialector = postgres.Open(cfg.Database.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		// sqlite allows one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

// initRedis returns nil when redis is disabled or unreachable; prices and
// events then stay in process.
func initRedis(cfg *config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, continuing without it", zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
