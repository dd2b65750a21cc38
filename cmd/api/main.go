package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/sarrafnet/sarraf-backend/internal/commission"
	"github.com/sarrafnet/sarraf-backend/internal/config"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/sarrafnet/sarraf-backend/internal/events"
	"github.com/sarrafnet/sarraf-backend/internal/handler"
	"github.com/sarrafnet/sarraf-backend/internal/logging"
	"github.com/sarrafnet/sarraf-backend/internal/middleware"
	"github.com/sarrafnet/sarraf-backend/internal/referral"
	"github.com/sarrafnet/sarraf-backend/internal/repository"
	"github.com/sarrafnet/sarraf-backend/internal/service/market"
	"github.com/sarrafnet/sarraf-backend/internal/service/pool"
	"github.com/sarrafnet/sarraf-backend/internal/service/transfer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("sarraf-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := repository.NewUserRepository(db)
	balances := repository.NewBalanceRepository(db)
	transfers := repository.NewTransferRepository(db)
	offers := repository.NewOfferRepository(db)
	fills := repository.NewMarketTransactionRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	referrals := repository.NewReferralRepository(db)
	rates := repository.NewRateConfigRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
	}

	calculator := commission.NewCalculator(rates)
	allocator := referral.NewAllocator(referralConfig(cfg), referrals, referrals, poolRepo, balances)

	var eventSink interface {
		Publish(ctx context.Context, topic, key string, event any) error
	}
	if publisher != nil {
		eventSink = publisher
	}

	transferSvc := transfer.NewService(users, balances, transfers, calculator, allocator, eventSink, db)
	marketSvc := market.NewService(users, balances, offers, fills, calculator, allocator, eventSink, db)
	poolSvc := pool.NewService(poolRepo, eventSink, db)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := market.NewExpirySweeper(marketSvc, logger, time.Duration(cfg.OfferSweepIntervalS)*time.Second)
	go sweeper.Start(rootCtx)
	go purgeIdempotencyCache(rootCtx, idempotency, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, cfg, db, users, balances, referrals, idempotency, transferSvc, marketSvc, poolSvc)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestID(middleware.Logging(middleware.Recovery(mux))),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func registerRoutes(
	mux *http.ServeMux,
	cfg *config.Config,
	db *sql.DB,
	users *repository.UserRepository,
	balances *repository.BalanceRepository,
	referrals *repository.ReferralRepository,
	idempotency *repository.IdempotencyRepository,
	transferSvc *transfer.Service,
	marketSvc *market.Service,
	poolSvc *pool.Service,
) {
	authHandler := handler.NewAuthHandler(users, cfg.JWTSecret, cfg.JWTExpiry)
	balanceHandler := handler.NewBalanceHandler(balances)
	transferHandler := handler.NewTransferHandler(transferSvc, users)
	referralHandler := handler.NewReferralHandler(referrals)
	marketHandler := handler.NewMarketHandler(marketSvc, users)
	poolHandler := handler.NewPoolHandler(poolSvc, users)
	healthHandler := handler.NewHealthHandler(db)

	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	authed := middleware.Auth(cfg.JWTSecret)
	idem := middleware.Idempotency(idempotency)

	mux.Handle("GET /api/v1/balances", authed(http.HandlerFunc(balanceHandler.List)))
	mux.Handle("GET /api/v1/referrals", authed(http.HandlerFunc(referralHandler.List)))

	mux.Handle("POST /api/v1/transfers", authed(idem(http.HandlerFunc(transferHandler.Create))))
	mux.Handle("POST /api/v1/transfers/confirm", authed(idem(http.HandlerFunc(transferHandler.Confirm))))
	mux.Handle("POST /api/v1/transfers/{id}/cancel", authed(http.HandlerFunc(transferHandler.Cancel)))
	mux.Handle("GET /api/v1/transfers/{id}", authed(http.HandlerFunc(transferHandler.Get)))
	mux.Handle("GET /api/v1/transfers", authed(http.HandlerFunc(transferHandler.List)))

	mux.Handle("POST /api/v1/offers", authed(idem(http.HandlerFunc(marketHandler.Create))))
	mux.Handle("POST /api/v1/offers/{id}/fills", authed(idem(http.HandlerFunc(marketHandler.Fill))))
	mux.Handle("POST /api/v1/offers/{id}/cancel", authed(http.HandlerFunc(marketHandler.Cancel)))
	mux.Handle("GET /api/v1/offers/{id}/fills", authed(http.HandlerFunc(marketHandler.ListFills)))
	mux.Handle("GET /api/v1/offers/{id}", authed(http.HandlerFunc(marketHandler.Get)))
	mux.Handle("GET /api/v1/offers", authed(http.HandlerFunc(marketHandler.List)))

	mux.Handle("GET /api/v1/pool/{currency}", authed(http.HandlerFunc(poolHandler.GetBalance)))
	mux.Handle("GET /api/v1/pool/{currency}/transactions", authed(http.HandlerFunc(poolHandler.ListTransactions)))
	mux.Handle("POST /api/v1/pool/withdrawals", authed(http.HandlerFunc(poolHandler.Withdraw)))
}

func referralConfig(cfg *config.Config) referral.Config {
	rewards := make(map[domain.OperationType]decimal.Decimal, 4)
	for op, raw := range map[domain.OperationType]string{
		domain.OpCityTransfer:          cfg.ReferralRewardCityTransfer,
		domain.OpInterOfficeTransfer:   cfg.ReferralRewardInterOffice,
		domain.OpInternationalTransfer: cfg.ReferralRewardInternational,
		domain.OpMarketOffer:           cfg.ReferralRewardMarketOffer,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Warn("invalid referral reward, skipping", "operation", op, "value", raw)
			continue
		}
		rewards[op] = d
	}
	return referral.Config{
		Enabled: cfg.ReferralEnabled,
		Rewards: rewards,
	}
}

func purgeIdempotencyCache(ctx context.Context, repo *repository.IdempotencyRepository, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanExpired(ctx)
			if err != nil {
				logger.Error("idempotency cache purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired idempotency entries", "count", n)
			}
		}
	}
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeS) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeS) * time.Second,
	}

	var err error
	for i := range 30 {
		var db *sql.DB
		db, err = repository.Connect(ctx, cfg.DatabaseURL, pool)
		if err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", err)
}
