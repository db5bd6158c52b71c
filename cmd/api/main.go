package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/contract-risk/internal/application"
	appanalysis "github.com/bryanwahyu/contract-risk/internal/application/analysis"
	appbatches "github.com/bryanwahyu/contract-risk/internal/application/batches"
	"github.com/bryanwahyu/contract-risk/internal/application/chunking"
	appshares "github.com/bryanwahyu/contract-risk/internal/application/shares"
	"github.com/bryanwahyu/contract-risk/internal/config"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/batch"
	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
	"github.com/bryanwahyu/contract-risk/internal/domain/share"
	oai "github.com/bryanwahyu/contract-risk/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/contract-risk/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/contract-risk/internal/infra/db/postgres"
	sqlitep "github.com/bryanwahyu/contract-risk/internal/infra/db/sqlite"
	"github.com/bryanwahyu/contract-risk/internal/infra/extract"
	"github.com/bryanwahyu/contract-risk/internal/infra/httpserver"
	"github.com/bryanwahyu/contract-risk/internal/infra/lock"
	"github.com/bryanwahyu/contract-risk/internal/infra/storage"
	"github.com/bryanwahyu/contract-risk/internal/logger"
	"github.com/bryanwahyu/contract-risk/internal/middleware"
	"github.com/bryanwahyu/contract-risk/internal/tracing"
)

// repositories bundles one dialect's implementations of the ports.
type repositories struct {
	db       *sql.DB
	analyses analysis.Repository
	ledger   credit.Ledger
	batches  batch.Repository
	shares   share.Repository
}

type fileStore interface {
	analysis.FileStore
	Ping(ctx context.Context) error
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, log, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Server.Mode,
	})
	if err != nil {
		log.Warn("tracing.init.failed", "error", err)
	}

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		log.Fatal("database.open.failed", "driver", cfg.Database.Driver, "error", err)
	}
	defer repos.db.Close()
	log.Info("database.ready", "driver", cfg.Database.Driver)

	files, err := openFileStore(ctx, cfg)
	if err != nil {
		log.Fatal("storage.open.failed", "driver", cfg.Storage.Driver, "error", err)
	}
	log.Info("storage.ready", "driver", cfg.Storage.Driver)

	health := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: repos.db},
		"storage":  middleware.CheckFunc(files.Ping),
	}

	// redis opsional: tanpa redis, cache miss yang bersamaan tidak digabung
	var guard analysis.FlightGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		guard = lock.NewRedisGuard(rdb, log)
		health["redis"] = &middleware.RedisHealthChecker{Client: rdb}
		log.Info("lock.redis.enabled", "addr", cfg.Redis.Addr)
	}

	oracle := oai.NewClient(oai.Options{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.Model,
		OCRModel:  cfg.OpenAI.OCRModel,
		MaxTokens: cfg.OpenAI.MaxTokens,
	})
	if cfg.OpenAI.APIKey == "" {
		log.Warn("openai.api_key.missing", "hint", "set OPENAI_API_KEY")
	}

	extractor := extract.New(oracle, log)
	if cfg.Extract.Pdftotext != "" {
		extractor.Pdftotext = cfg.Extract.Pdftotext
	}
	if cfg.Extract.Pdftoppm != "" {
		extractor.Pdftoppm = cfg.Extract.Pdftoppm
	}
	if cfg.Extract.MaxImageEdge > 0 {
		extractor.MaxImageEdge = cfg.Extract.MaxImageEdge
	}
	if cfg.Extract.OCRGroup > 0 {
		extractor.OCRGroup = cfg.Extract.OCRGroup
	}

	clock := application.SystemClock{}
	engine := chunking.New(oracle, log)
	analyses := &appanalysis.Service{
		Repo:           repos.analyses,
		Files:          files,
		Ledger:         repos.ledger,
		Extractor:      extractor,
		Engine:         engine,
		Guard:          guard,
		Clock:          clock,
		Log:            log,
		Cost:           cfg.Analysis.Cost,
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes,
	}
	batches := &appbatches.Service{
		Repo:         repos.batches,
		Ledger:       repos.ledger,
		Extractor:    extractor,
		Engine:       engine,
		Analyses:     analyses,
		Guard:        guard,
		Clock:        clock,
		Log:          log,
		Cost:         cfg.Analysis.Cost,
		MaxPartBytes: cfg.Analysis.MaxUploadBytes,
	}
	shares := &appshares.Service{
		Repo:     repos.shares,
		Analyses: repos.analyses,
		Clock:    clock,
		Log:      log,
		TTL:      cfg.ShareTTL(),
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	if err := limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		log.Fatal("ratelimit.config.invalid", "error", err)
	}
	stopSweep := make(chan struct{})
	go limiter.RunSweeper(5*time.Minute, stopSweep)

	handler := httpserver.NewRouter(httpserver.Services{
		Analyses: analyses,
		Batches:  batches,
		Shares:   shares,
		Ledger:   repos.ledger,
	}, httpserver.Options{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		AdminKeys:      cfg.Auth.AdminKeys,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Health:         health,
		Limiter:        limiter,
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes,
		Log:            log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Info("server.listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server.failed", "error", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("server.shutting_down")
	close(stopSweep)

	ctx2, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("server.shutdown.failed", "error", err)
	}
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing.shutdown.failed", "error", err)
	}
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, err
		}
		if err := mysqlp.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &repositories{
			db:       db,
			analyses: mysqlp.NewAnalysisRepository(db),
			ledger:   mysqlp.NewCreditLedger(db),
			batches:  mysqlp.NewBatchRepository(db),
			shares:   mysqlp.NewShareRepository(db),
		}, nil

	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, err
		}
		if err := postgresp.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &repositories{
			db:       db,
			analyses: postgresp.NewAnalysisRepository(db),
			ledger:   postgresp.NewCreditLedger(db),
			batches:  postgresp.NewBatchRepository(db),
			shares:   postgresp.NewShareRepository(db),
		}, nil

	default:
		dsn := cfg.DSN()
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err := sqlitep.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := sqlitep.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &repositories{
			db:       db,
			analyses: sqlitep.NewAnalysisRepository(db),
			ledger:   sqlitep.NewCreditLedger(db),
			batches:  sqlitep.NewBatchRepository(db),
			shares:   sqlitep.NewShareRepository(db),
		}, nil
	}
}

func openFileStore(ctx context.Context, cfg *config.Config) (fileStore, error) {
	if cfg.Storage.Driver == "minio" {
		return storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
	}
	return storage.NewLocal(cfg.Storage.LocalRoot)
}
