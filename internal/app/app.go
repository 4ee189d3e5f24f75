package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/internal/events"
	"github.com/Crotoconlaptop/bqt-booking/internal/grpcserver"
	"github.com/Crotoconlaptop/bqt-booking/internal/httpapi"
	"github.com/Crotoconlaptop/bqt-booking/internal/oplog"
	"github.com/Crotoconlaptop/bqt-booking/internal/redislock"
	"github.com/Crotoconlaptop/bqt-booking/internal/store/apistore"
	"github.com/Crotoconlaptop/bqt-booking/internal/store/gormstore"
	"github.com/Crotoconlaptop/bqt-booking/internal/store/memstore"
	"github.com/Crotoconlaptop/bqt-booking/internal/store/migrations"
	"github.com/Crotoconlaptop/bqt-booking/internal/store/pgstore"
	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Runtime is a wired booking service plus the resources it holds.
type Runtime struct {
	Service *booking.Service
	closers []func() error
}

// Close releases resources in reverse acquisition order.
func (runtime *Runtime) Close() error {
	var errs []error
	for index := len(runtime.closers) - 1; index >= 0; index-- {
		if err := runtime.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	runtime.closers = nil
	return errors.Join(errs...)
}

func (runtime *Runtime) onClose(closer func() error) {
	runtime.closers = append(runtime.closers, closer)
}

// Build opens the configured store, prepares its schema and wires the service
// with logging, optional distributed locking and optional event publishing.
func Build(ctx context.Context, cfg Config, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runtime := &Runtime{}
	store, err := openStore(ctx, cfg, runtime)
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}

	options := []booking.ServiceOption{
		booking.WithOperationLogger(oplog.New(logger)),
		booking.WithLocation(cfg.Location()),
		booking.WithAdmitTimeout(cfg.AdmitTimeout),
	}
	if cfg.RedisURL != "" {
		client, err := redislock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		runtime.onClose(client.Close)
		locker, err := newDateLocker(client, cfg.AdmitTimeout)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		options = append(options, booking.WithDateLocker(locker))
	}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		runtime.onClose(publisher.Close)
		options = append(options, booking.WithAdmissionListener(events.NewNotifier(publisher, logger.Named("amqp"))))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		runtime.onClose(publisher.Close)
		options = append(options, booking.WithAdmissionListener(events.NewNotifier(publisher, logger.Named("kafka"))))
	}

	service, err := booking.NewService(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("booking service init: %w", err)
	}
	runtime.Service = service
	return runtime, nil
}

func openStore(ctx context.Context, cfg Config, runtime *Runtime) (booking.Store, error) {
	switch cfg.StoreBackend {
	case BackendMemory:
		return memstore.New(), nil
	case BackendAPI:
		return apistore.New(cfg.RemoteAPIURL)
	case BackendPgx:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		runtime.onClose(func() error { pool.Close(); return nil })
		if err := migratePool(ctx, pool); err != nil {
			return nil, err
		}
		return pgstore.New(pool), nil
	default:
		db, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		runtime.onClose(cleanup)
		if err := prepareSchema(ctx, db, driver); err != nil {
			return nil, err
		}
		return gormstore.New(db), nil
	}
}

func migratePool(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	return migrations.Up(ctx, db)
}

// Migrate prepares the schema of the configured database and returns the
// resulting goose version, or zero for AutoMigrate-managed databases.
func Migrate(ctx context.Context, cfg Config) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	switch cfg.StoreBackend {
	case BackendMemory, BackendAPI:
		return 0, fmt.Errorf("store backend %q has no schema", cfg.StoreBackend)
	case BackendPgx:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return 0, fmt.Errorf("pgx pool: %w", err)
		}
		defer pool.Close()
		db := stdlib.OpenDBFromPool(pool)
		defer func() { _ = db.Close() }()
		if err := migrations.Up(ctx, db); err != nil {
			return 0, err
		}
		return migrations.Version(ctx, db)
	}
	db, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return 0, fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := prepareSchema(ctx, db, driver); err != nil {
		return 0, err
	}
	if driver != driverPostgres {
		return 0, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}
	return migrations.Version(ctx, sqlDB)
}

// Serve runs the HTTP API and the gRPC server until ctx is cancelled or either
// server fails.
func Serve(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runtime, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			logger.Warn("runtime close", zap.Error(closeErr))
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))
	grpcserver.Register(grpcServer, grpcserver.NewBookingServiceServer(runtime.Service))

	serveContext, cancel := context.WithCancel(ctx)
	defer cancel()

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpapi.Run(serveContext, cfg.HTTP, runtime.Service, logger)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-grpcErrCh:
		grpcErrCh = nil
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = fmt.Errorf("grpc serve: %w", err)
		}
	case err := <-httpErrCh:
		httpErrCh = nil
		if err != nil {
			serveErr = fmt.Errorf("http serve: %w", err)
		}
	}
	cancel()
	grpcServer.GracefulStop()
	if httpErrCh != nil {
		if err := <-httpErrCh; err != nil && serveErr == nil {
			serveErr = fmt.Errorf("http serve: %w", err)
		}
	}
	if grpcErrCh != nil {
		if err := <-grpcErrCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) && serveErr == nil {
			serveErr = fmt.Errorf("grpc serve: %w", err)
		}
	}
	return serveErr
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(started))}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Debug("grpc call", fields...)
		return response, err
	}
}

// lockTTLMargin keeps a Redis date lock alive past the admission deadline.
const lockTTLMargin = 5 * time.Second

func newDateLocker(client redis.UniversalClient, admitTimeout time.Duration) (*redislock.Locker, error) {
	return redislock.New(client, redislock.WithTTL(lockTTL(admitTimeout)))
}

func lockTTL(admitTimeout time.Duration) time.Duration {
	if admitTimeout <= 0 {
		admitTimeout = booking.DefaultAdmitTimeout
	}
	return admitTimeout + lockTTLMargin
}
