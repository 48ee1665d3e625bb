package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/adapter/repo"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/dispatch"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra/credentials"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/jobs"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/providers/compute"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/signing"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/storage"
)

// The worker binary runs dispatch without the HTTP API: it drains the shared
// queue, submits jobs to the compute backend, and sweeps and reconciles
// dispatched jobs. Run it next to an api process started with
// DISPATCH_WORKERS=0 to separate intake from dispatch, or scale several
// workers against the same Postgres and AMQP broker; the conditional status
// update keeps concurrent claimers safe.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store domain.JobStore
	var closeStore func()
	var pool *pgxpool.Pool
	if cfg.DatabaseKind() == "postgres" {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: db connection failed")
		}
		pg := repo.NewJobStorePG(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("worker: ensure schema failed")
		}
		store, closeStore = pg, pool.Close
	} else {
		lite, err := repo.NewJobStoreSQLite(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: open job store failed")
		}
		store, closeStore = lite, func() { _ = lite.Close() }
	}
	defer closeStore()

	signer := signing.NewTokenSigner(cfg.AssetTokenSecret)
	var blobs storage.Store
	if cfg.StorageBackend == "s3" {
		blobs, err = storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
	} else {
		blobs, err = storage.NewFileStore(cfg.DataRoot, cfg.PublicBaseURL, signer)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure storage failed")
	}

	var provider compute.Provider = compute.NewMock()
	if cfg.ComputeProvider != "mock" {
		apiKey := cfg.RunPodAPIKey
		if apiKey == "" && pool != nil {
			creds := credentials.NewStore(pool)
			if err := creds.EnsureSchema(ctx); err != nil {
				logger.Warn().Err(err).Msg("worker: credentials store unavailable")
			} else if key, err := creds.RunPodAPIKey(ctx); err != nil {
				logger.Warn().Err(err).Msg("worker: failed to load runpod api key from store")
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
		if rp.HasCredentials() {
			provider = rp
		} else {
			logger.Warn().Msg("worker: runpod credentials missing, using mock compute provider")
		}
	}

	var queue dispatch.Queue
	if cfg.QueueBackend == "amqp" {
		queue, err = dispatch.NewAMQPQueue(dispatch.AMQPOptions{
			URL:      cfg.AMQPURL,
			Queue:    cfg.AMQPQueue,
			Prefetch: cfg.DispatchWorkers,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: connect queue failed")
		}
	} else {
		// A process-local queue never sees jobs accepted by another process;
		// the boot requeue below is then the only feed. Standalone workers
		// want QUEUE_BACKEND=amqp.
		logger.Warn().Msg("worker: using in-memory queue, jobs accepted elsewhere arrive only via requeue")
		queue = dispatch.NewMemoryQueue(cfg.QueueCapacity)
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

	if n, err := dispatcher.RequeuePending(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: boot requeue failed")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("worker: requeued pending jobs")
	}
	dispatcher.Start(ctx)
	logger.Info().Str("provider", provider.Name()).Msg("worker: started")

	<-ctx.Done()
	_ = queue.Close()
	dispatcher.Wait()
	logger.Info().Msg("worker: stopped")
}
