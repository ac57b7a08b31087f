// Package commands implements the sigindex CLI commands.
package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/hupe1980/sigindex"
	"github.com/hupe1980/sigindex/blobstore"
	miniostore "github.com/hupe1980/sigindex/blobstore/minio"
	s3store "github.com/hupe1980/sigindex/blobstore/s3"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/checkpoint/badgerstore"
	"github.com/hupe1980/sigindex/checkpoint/dynamo"
	"github.com/hupe1980/sigindex/codec"
	"github.com/hupe1980/sigindex/internal/cache"
	"github.com/hupe1980/sigindex/internal/config"
	"github.com/hupe1980/sigindex/lock"
	"github.com/hupe1980/sigindex/postgres"
	"github.com/hupe1980/sigindex/promcollector"
	"github.com/hupe1980/sigindex/resource"
	"github.com/hupe1980/sigindex/signalindex"
	"github.com/hupe1980/sigindex/sqlstore"
)

// IndexStore is the store type the CLI operates on.
type IndexStore = sigindex.Store[*signalindex.Index]

// App holds the wired backends of one CLI invocation.
type App struct {
	Config   *config.Config
	Logger   *sigindex.Logger
	Store    *IndexStore
	Registry *prometheus.Registry

	closers []func() error
	pools   map[string]*pgxpool.Pool
	dbs     map[string]*sql.DB
	aws     *aws.Config
}

// Open wires the backends named in cfg.
func Open(ctx context.Context, cfg *config.Config, logger *sigindex.Logger) (_ *App, err error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		pools:    make(map[string]*pgxpool.Pool),
		dbs:      make(map[string]*sql.DB),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     cfg.CacheBytes(),
		MaxConcurrentCommits: cfg.Limits.MaxConcurrentCommits,
		UploadBytesPerSec:    cfg.UploadBytesPerSec(),
	})

	blobs, err := app.openBlobStore(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	repo, err := app.openRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint repository: %w", err)
	}

	locker, err := app.openLocker(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	c, err := app.indexCodec()
	if err != nil {
		return nil, err
	}

	metrics, err := promcollector.New(app.Registry)
	if err != nil {
		return nil, err
	}

	app.Store, err = sigindex.New(blobs, repo, c,
		sigindex.WithLogger(logger),
		sigindex.WithMetricsCollector(metrics),
		sigindex.WithTracerProvider(otel.GetTracerProvider()),
		sigindex.WithLocker(locker),
		sigindex.WithResourceController(rc),
		sigindex.WithStagingDir(cfg.StagingDir),
		sigindex.WithSharedLoads(true),
	)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Close releases all backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// WriteMetrics writes the collected metrics to the configured textfile.
func (a *App) WriteMetrics() error {
	if a.Config.Metrics.Textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(a.Config.Metrics.Textfile, a.Registry)
}

func (a *App) openBlobStore(ctx context.Context, rc *resource.Controller) (blobstore.Store, error) {
	cfg := a.Config.Blob

	var (
		store blobstore.Store
		err   error
	)
	switch cfg.Backend {
	case "local":
		store, err = blobstore.NewLocalStore(cfg.Dir)
	case "memory":
		store = blobstore.NewMemoryStore()
	case "s3":
		var awsCfg aws.Config
		if awsCfg, err = a.awsConfig(ctx, cfg.Region); err == nil {
			store = s3store.NewStore(awss3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix)
		}
	case "minio":
		var client *miniogo.Client
		client, err = miniogo.New(cfg.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err == nil {
			store = miniostore.NewStore(client, cfg.Bucket, cfg.Prefix)
		}
	case "postgres":
		var pool *pgxpool.Pool
		if pool, err = a.pool(ctx, cfg.DSN); err == nil {
			store = postgres.NewLargeObjectStore(pool)
		}
	case "sqlite":
		var db *sql.DB
		if db, err = a.sqlite(ctx, cfg.DSN); err == nil {
			store = sqlstore.NewBlobStore(db)
		}
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if n := a.Config.CacheBytes(); n > 0 {
		store = blobstore.NewCachingStore(store, cache.NewLRU(n, rc))
	}
	return store, nil
}

func (a *App) openRepository(ctx context.Context) (checkpoint.Repository, error) {
	cfg := a.Config.Checkpoint

	switch cfg.Backend {
	case "memory":
		return checkpoint.NewMemoryRepository(), nil
	case "sqlite":
		db, err := a.sqlite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return sqlstore.NewRepository(db), nil
	case "postgres":
		pool, err := a.pool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewRepository(pool), nil
	case "dynamodb":
		awsCfg, err := a.awsConfig(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
	case "badger":
		bcfg := badgerstore.DefaultConfig(cfg.Path)
		bcfg.Logger = a.Logger.With("component", "badger")
		repo, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	cfg := a.Config.Lock

	switch cfg.Backend {
	case "memory":
		return lock.NewKeyedMutex(), nil
	case "file":
		return lock.NewFileLocker(cfg.Dir)
	case "postgres":
		dsn := a.Config.Checkpoint.DSN
		if dsn == "" {
			dsn = a.Config.Blob.DSN
		}
		if dsn == "" {
			return nil, errors.New("postgres lock needs checkpoint.dsn or blob.dsn")
		}
		pool, err := a.pool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return postgres.NewAdvisoryLocker(pool), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *App) indexCodec() (codec.Codec[*signalindex.Index], error) {
	comp, err := codec.ParseCompression(a.Config.Codec.Compression)
	if err != nil {
		return nil, err
	}
	return codec.NewFramed[*signalindex.Index](signalindex.Codec{},
		codec.WithCompression(comp),
		codec.WithBlockSize(int(a.Config.BlockBytes())),
	), nil
}

// pool returns a shared, migrated pgx pool for dsn.
func (a *App) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if p, ok := a.pools[dsn]; ok {
		return p, nil
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { p.Close(); return nil })
	if err := postgres.Migrate(ctx, p); err != nil {
		return nil, err
	}
	a.pools[dsn] = p
	return p, nil
}

// sqlite returns a shared, migrated database for path.
func (a *App) sqlite(ctx context.Context, path string) (*sql.DB, error) {
	if db, ok := a.dbs[path]; ok {
		return db, nil
	}
	db, err := sqlstore.Open(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := sqlstore.Migrate(ctx, db); err != nil {
		return nil, err
	}
	a.dbs[path] = db
	return db, nil
}

func (a *App) awsConfig(ctx context.Context, region string) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	a.aws = &cfg
	return cfg, nil
}
