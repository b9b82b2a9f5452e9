package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/backup"
	"github.com/schoolwelfare/caseboard/pkg/config"
	"github.com/schoolwelfare/caseboard/pkg/httputil"
	"github.com/schoolwelfare/caseboard/pkg/notify"
	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/rbac"
	"github.com/schoolwelfare/caseboard/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const maxRequestBytes = 10 << 20

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Caseboard exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	// External dependencies
	var db *sql.DB
	if cfg.Persistence.DatabaseURL != "" {
		db, err = storage.OpenDB(ctx, cfg.Persistence.DBConfig())
		if err != nil {
			return err
		}
		logger.Info("Database connection established")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = storage.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		logger.Info("Redis connection established")
	}

	// Audit sinks
	auditLogger, auditStore, err := setupAudit(cfg, db, logger)
	if err != nil {
		return err
	}

	// Snapshot persistence
	snapshots, err := setupSnapshotStore(ctx, cfg, db, redisClient)
	if err != nil {
		return err
	}

	// Permission service
	policy, policyFile, err := loadPolicy(cfg)
	if err != nil {
		return err
	}

	hub := notify.NewHub()
	opts := []rbac.Option{
		rbac.WithAuditLogger(auditLogger),
		rbac.WithNotifier(hub),
		rbac.WithMetrics(metrics),
		rbac.WithLogger(logger),
		rbac.WithCascadeMode(cfg.Policy.CascadeMode),
	}
	if snapshots != nil {
		opts = append(opts, rbac.WithSnapshotStore(snapshots))
	}
	svc := rbac.NewService(policy, opts...)

	if snapshots != nil && cfg.Persistence.RestoreOnStart {
		switch err := svc.Restore(ctx); {
		case errors.Is(err, storage.ErrNoSnapshot):
			logger.Info("No stored snapshot, starting empty")
		case err != nil:
			return fmt.Errorf("failed to restore snapshot: %w", err)
		default:
			logger.Infof("Restored %d users from %s snapshot", svc.Store().Len(), cfg.Persistence.Backend)
		}
	}

	// The policy file wins over restored role defaults; differences are audited
	if policyFile != nil {
		changed, err := policyFile.Apply(ctx, svc)
		if err != nil {
			return fmt.Errorf("failed to apply policy file: %w", err)
		}
		if len(changed) > 0 {
			logger.WithField("roles", changed).Info("Applied role defaults from policy file")
		}
	}

	checker := rbac.NewChecker(svc, cfg.Policy.CheckerCacheSize, cfg.Policy.CheckerTTL)
	go checker.Watch(ctx, hub)

	if cfg.Policy.NotifyRedis {
		// Remote changes arrive through the shared snapshot store
		bridge := notify.NewRedisBridge(redisClient, hub, cfg.Policy.NotifyChannel, logger).
			WithReload(svc.Restore)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.WithError(err).Error("Redis change bridge stopped")
			}
		}()
	}

	if cfg.Policy.Watch {
		watcher := config.NewPolicyWatcher(cfg.Policy.File, func(pf *config.PolicyFile) {
			changed, err := pf.Apply(ctx, svc)
			if err != nil {
				logger.WithError(err).Error("Failed to apply reloaded policy file")
				return
			}
			logger.WithField("roles", changed).Info("Role defaults reloaded")
		}, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.WithError(err).Error("Policy watcher stopped")
			}
		}()
	}

	// Scheduled backups
	var scheduler *backup.Scheduler
	if cfg.Backup.Enabled {
		scheduler, err = setupBackups(ctx, cfg, svc, metrics)
		if err != nil {
			return err
		}
	}

	// HTTP
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(router, registry)
	}

	api := router.NewRoute().Subrouter()
	api.Use(contextLogger(logger), audit.ActorMiddleware, observability.HTTPMetricsMiddleware(metrics))

	handlers := rbac.NewHandlers(svc, checker)
	if cfg.Policy.EnforcePermissions {
		handlers.WithGuard(checker)
	}
	handlers.RegisterRoutes(api)
	audit.NewHandlers(auditStore).RegisterRoutes(api)
	if scheduler != nil {
		backup.NewHandlers(scheduler).RegisterRoutes(api)
	}

	var handler http.Handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)(router)
	if tp != nil {
		handler = observability.TracingHandler(handler, "caseboard")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})
	if scheduler != nil {
		shutdown.RegisterShutdownFunc(scheduler.Stop)
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		hub.Close()
		return auditLogger.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	if db != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Caseboard %s listening on %s", version, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	done := make(chan error, 1)
	go func() { done <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serverErr:
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		_ = shutdown.Shutdown(shutdownCtx)
		return fmt.Errorf("server failed: %w", err)
	case err := <-done:
		return err
	}
}

// setupAudit builds the audit fan-out and picks the store answering queries.
// The in-memory log is always a sink; it is seeded from the file sink so
// queries survive restarts.
func setupAudit(cfg *config.Config, db *sql.DB, logger *observability.Logger) (audit.Logger, audit.Store, error) {
	var (
		seed  []*audit.Entry
		sinks []audit.Logger
	)

	if cfg.Audit.FileEnabled {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.FileDir
		if cfg.Audit.FileMaxSize > 0 {
			fileCfg.MaxSize = cfg.Audit.FileMaxSize
		}
		if cfg.Audit.FileMaxFiles > 0 {
			fileCfg.MaxFiles = cfg.Audit.FileMaxFiles
		}
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, err
		}
		seed, err = fileLogger.ReadEntries()
		if err != nil {
			logger.WithError(err).Warn("Failed to replay audit file, starting with an empty in-memory log")
			seed = nil
		}
		sinks = append(sinks, fileLogger)
	}

	memory := audit.NewMemoryLog(seed...)
	sinks = append([]audit.Logger{memory}, sinks...)
	var store audit.Store = memory

	if cfg.Audit.DBEnabled {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, dbLogger)
		store = dbLogger
	}

	logger.Infof("Audit log writing to %d sink(s)", len(sinks))
	return audit.NewMultiLogger(sinks...), store, nil
}

// contextLogger makes logger available to handlers through
// observability.FromContext
func contextLogger(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
		})
	}
}

func setupSnapshotStore(ctx context.Context, cfg *config.Config, db *sql.DB, redisClient *redis.Client) (storage.SnapshotStore, error) {
	switch cfg.Persistence.Backend {
	case config.BackendFilesystem:
		return storage.NewFileSystemStore(cfg.Persistence.FilesystemRoot)
	case config.BackendRedis:
		return storage.NewRedisStore(redisClient, cfg.Redis), nil
	case config.BackendPostgres:
		return storage.NewSQLStore(db)
	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		return nil, nil
	}
}

// loadPolicy returns the built-in role defaults overlaid with the policy file
func loadPolicy(cfg *config.Config) (*rbac.Policy, *config.PolicyFile, error) {
	defaults := rbac.BuiltInDefaults()
	if cfg.Policy.File == "" {
		return rbac.NewPolicy(defaults), nil, nil
	}

	pf, err := config.LoadPolicyFile(cfg.Policy.File)
	if err != nil {
		return nil, nil, err
	}
	fromFile, err := pf.Defaults()
	if err != nil {
		return nil, nil, err
	}
	for role, perms := range fromFile {
		defaults[role] = perms
	}
	return rbac.NewPolicy(defaults), pf, nil
}

func setupBackups(ctx context.Context, cfg *config.Config, svc *rbac.Service, metrics *observability.Metrics) (*backup.Scheduler, error) {
	var target backup.Target
	switch cfg.Backup.Target {
	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		target = backup.Target{Name: "s3", Archiver: storage.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix)}
	default:
		fs, err := storage.NewFileSystemStore(cfg.Backup.Dir)
		if err != nil {
			return nil, err
		}
		target = backup.Target{Name: "filesystem", Archiver: fs}
	}

	scheduler := backup.NewScheduler(svc, []backup.Target{target},
		backup.WithLogger(newBackupLogger(cfg.Observability.LogLevel)),
		backup.WithMetrics(metrics),
	)
	if err := scheduler.Start(cfg.Backup.Schedule); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func newBackupLogger(level observability.LogLevel) logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	switch level {
	case observability.DebugLevel:
		l.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		l.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l.WithField("component", "backup")
}
