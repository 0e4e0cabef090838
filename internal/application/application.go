package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/psds-microservice/attention-service/internal/config"
	"github.com/psds-microservice/attention-service/internal/database"
	"github.com/psds-microservice/attention-service/internal/emitter"
	"github.com/psds-microservice/attention-service/internal/grpcserver"
	"github.com/psds-microservice/attention-service/internal/handler"
	"github.com/psds-microservice/attention-service/internal/metrics"
	"github.com/psds-microservice/attention-service/internal/router"
	"github.com/psds-microservice/attention-service/internal/service"
	"github.com/psds-microservice/attention-service/internal/store"
)

// NewLogger builds the zap logger: development config for APP_ENV=development,
// production otherwise, at LOG_LEVEL.
func NewLogger(appEnv, level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if appEnv == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

// API is the HTTP + WebSocket API application.
type API struct {
	cfg     *config.Config
	log     *zap.Logger
	srv     *http.Server
	store   store.Store
	writes  *service.WriteBehind
	emitter emitter.Emitter
	grpc    *grpcserver.Server
}

// NewAPI validates config, opens the store and builds the router.
func NewAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.StoreDriver == config.DriverPostgres {
		if err := database.MigrateUp(cfg.DatabaseURL(), logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	st, err := database.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	m := metrics.New()

	var em emitter.Emitter = emitter.Noop{}
	if cfg.MQTTBroker != "" {
		mq, err := emitter.Connect(cfg.MQTTBroker, "attention-service-"+cfg.HTTPPort, cfg.MQTTTopicPrefix, logger)
		if err != nil {
			logger.Warn("mqtt emitter disabled", zap.Error(err))
		} else {
			em = mq
		}
	}

	writes := service.NewWriteBehind(st, cfg.WriteBehindBuffer, logger, m)
	hub, err := service.NewHub(st, writes, cfg.ClassroomCacheSize, logger,
		service.WithEmitter(em), service.WithMetrics(m))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	svc := service.NewClassroomService(st, hub, em, m, logger)

	upgrader := handler.NewUpgrader(cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSAllowedOrigins)
	r := router.New(
		handler.NewClassroomHandler(svc, logger),
		handler.NewClassroomWSHandler(hub, svc, upgrader, cfg.HubSendBuffer, cfg.WSMaxMessageSize, logger),
		handler.NewHealthHandler(st),
		m,
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a := &API{cfg: cfg, log: logger, srv: srv, store: st, writes: writes, emitter: em}
	if cfg.GRPCAddr() != "" {
		a.grpc = grpcserver.New(st, 10*time.Second, logger)
	}
	return a, nil
}

// Run starts the servers and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.srv.Addr),
		zap.String("health", base+"/health"),
		zap.String("ready", base+"/ready"),
		zap.String("metrics", base+"/metrics"),
		zap.String("classrooms", base+"/classroom"),
		zap.String("websocket", "ws://"+host+":"+a.cfg.HTTPPort+"/ws"),
		zap.String("store_driver", a.cfg.StoreDriver))

	a.writes.Start()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	errCh := make(chan error, 2)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr())
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
		} else {
			go func() {
				if err := a.grpc.Serve(runCtx, lis); err != nil {
					errCh <- fmt.Errorf("grpc: %w", err)
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.writes.Close(shutdownCtx); err != nil {
		a.log.Warn("write-behind flush incomplete", zap.Error(err))
	}
	a.emitter.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", zap.Error(err))
	}
	return runErr
}
