package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/adapter/repo"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/dispatch"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/http/handlers"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/http/httpapi"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra/credentials"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra/geoip"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/jobs"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/providers/compute"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/signing"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	store, pool, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open job store")
	}
	defer closeStore()

	signer := signing.NewTokenSigner(cfg.AssetTokenSecret)
	blobs, err := buildStorage(ctx, cfg, signer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob storage")
	}

	provider := buildProvider(ctx, cfg, pool, logger)
	queue, err := buildQueue(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open dispatch queue")
	}

	svc := jobs.NewService(store, blobs, queue, logger, jobs.Options{
		MaxRetries:     cfg.MaxRetries,
		RetryRejected:  cfg.RetryRejected,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AssetTTL:       cfg.AssetTokenTTL,
	})

	dispatcher := dispatch.New(store, blobs, provider, queue, svc, logger, dispatch.Options{
		Workers:           cfg.DispatchWorkers,
		AssetTTL:          cfg.AssetTokenTTL,
		SubmitTimeout:     cfg.SubmitTimeout,
		DispatchTimeout:   cfg.DispatchTimeout,
		ReconcileInterval: cfg.ReconcileInterval,
		PublicBaseURL:     cfg.PublicBaseURL,
		CallbackSecret:    cfg.CallbackSecret,
	})

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	if cfg.DispatchWorkers > 0 {
		// Jobs left queued by a previous run have no queue message anymore.
		if n, err := dispatcher.RequeuePending(ctx); err != nil {
			logger.Error().Err(err).Msg("boot requeue failed")
		} else if n > 0 {
			logger.Info().Int("jobs", n).Msg("requeued pending jobs")
		}
		dispatcher.Start(dispatchCtx)
	} else {
		logger.Info().Msg("embedded dispatch disabled, expecting external worker processes")
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
		geo = nil
	}

	app := &handlers.App{
		Jobs:           svc,
		Blobs:          blobs,
		Signer:         signer,
		Logger:         logger,
		CallbackSecret: cfg.CallbackSecret,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		GeoIP:       geo,
		RateLimit:   cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("provider", provider.Name()).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	stopDispatch()
	_ = queue.Close()
	dispatcher.Wait()
	logger.Info().Msg("server stopped")
}

func buildStore(ctx context.Context, cfg *infra.Config) (domain.JobStore, *pgxpool.Pool, func(), error) {
	if cfg.DatabaseKind() == "postgres" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		store := repo.NewJobStorePG(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, pool, pool.Close, nil
	}
	store, err := repo.NewJobStoreSQLite(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, nil, func() { _ = store.Close() }, nil
}

func buildStorage(ctx context.Context, cfg *infra.Config, signer *signing.TokenSigner) (storage.Store, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return storage.NewFileStore(cfg.DataRoot, cfg.PublicBaseURL, signer)
}

func buildProvider(ctx context.Context, cfg *infra.Config, pool *pgxpool.Pool, logger infra.Logger) compute.Provider {
	if cfg.ComputeProvider == "mock" {
		return compute.NewMock()
	}

	apiKey := cfg.RunPodAPIKey
	if apiKey == "" && pool != nil {
		// The environment wins; the credentials table is the fallback so keys
		// can be rotated without a redeploy.
		creds := credentials.NewStore(pool)
		if err := creds.EnsureSchema(ctx); err != nil {
			logger.Warn().Err(err).Msg("credentials store unavailable")
		} else if key, err := creds.RunPodAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to load runpod api key from store")
		} else {
			apiKey = key
		}
	}

	rp := compute.NewRunPod(compute.Options{
		APIKey:         apiKey,
		EndpointID:     cfg.RunPodEndpointID,
		BaseURL:        cfg.RunPodAPIBase,
		Logger:         &logger,
		RequestTimeout: cfg.SubmitTimeout,
	})
	if !rp.HasCredentials() {
		logger.Warn().Msg("runpod credentials missing, using mock compute provider")
		return compute.NewMock()
	}
	return rp
}

func buildQueue(cfg *infra.Config) (dispatch.Queue, error) {
	if cfg.QueueBackend == "amqp" {
		return dispatch.NewAMQPQueue(dispatch.AMQPOptions{
			URL:      cfg.AMQPURL,
			Queue:    cfg.AMQPQueue,
			Prefetch: cfg.DispatchWorkers,
		})
	}
	return dispatch.NewMemoryQueue(cfg.QueueCapacity), nil
}
