package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/k-code-yt/gogo-lamp/internal/api"
	"github.com/k-code-yt/gogo-lamp/internal/config"
	"github.com/k-code-yt/gogo-lamp/internal/hub"
	"github.com/k-code-yt/gogo-lamp/internal/ingress"
	"github.com/k-code-yt/gogo-lamp/internal/payment/store"
	"github.com/k-code-yt/gogo-lamp/internal/ratelimit"
	"github.com/k-code-yt/gogo-lamp/internal/transport/kafka"
	"github.com/k-code-yt/gogo-lamp/internal/transport/ws"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	shutdownTimeout      = 10 * time.Second
	limiterSweepInterval = 30 * time.Second
)

type App struct {
	config *config.Config
	Router *gin.Engine

	hub   *hub.Hub
	store store.PaymentStore
	db    *sqlx.DB
	sink  *kafka.Sink

	limiter *ratelimit.PerClientLimiter

	grpcServer *grpc.Server
	health     *health.Server
}

func (a *App) Initialize(cfg *config.Config) error {
	a.config = cfg
	a.hub = hub.NewHub()

	if err := a.initStore(); err != nil {
		return err
	}

	if cfg.Kafka.Enabled {
		enc, err := kafka.NewEncoder(kafka.EncoderType(cfg.Kafka.Encoder))
		if err != nil {
			return err
		}
		sink, err := kafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, enc)
		if err != nil {
			return err
		}
		a.sink = sink
	}

	if cfg.Stripe.WebhookSecret == "" {
		logrus.Warn("STRIPE_WEBHOOK_SECRET not set, webhook signatures will not be verified")
	}

	svc := ingress.NewService(a.store, a.hub, nil, ingress.Config{
		WebhookSecret:      cfg.Stripe.WebhookSecret,
		SignatureTolerance: cfg.Stripe.SignatureTolerance,
		DefaultCurrency:    cfg.Payments.DefaultCurrency,
		DefaultTestAmount:  cfg.Payments.DefaultTestAmount,
	})
	handler := api.NewHandler(svc, a.store, a.hub, cfg.Payments.HistoryLimit)
	var testLimiter gin.HandlerFunc
	if cfg.RateLimit.TestPaymentBurst > 0 {
		a.limiter = ratelimit.NewPerClientLimiter(nil, cfg.RateLimit.TestPaymentBurst, cfg.RateLimit.TestPaymentPerSecond)
		testLimiter = a.limiter.Middleware()
	}
	a.Router = api.NewRouter(handler, ws.NewHandler(a.hub), testLimiter)

	if cfg.GRPC.HealthPort != "" {
		a.grpcServer = grpc.NewServer()
		a.health = health.NewServer()
		healthpb.RegisterHealthServer(a.grpcServer, a.health)
	}
	return nil
}

func (a *App) initStore() error {
	switch a.config.Store.Driver {
	case config.StoreDriver_Postgres:
		if a.config.Postgres.MigrateOnStart {
			if err := store.Migrate(a.config.Postgres.URL(), store.MigrateAction_Up, 0); err != nil {
				return err
			}
		}
		db, err := store.NewDBConn(a.config.Postgres.DSN())
		if err != nil {
			return err
		}
		a.db = db
		a.store = store.NewPostgresStore(db, nil, a.config.Payments.DefaultCurrency)
	default:
		a.store = store.NewInMemoryStore(nil, a.config.Payments.DefaultCurrency)
	}
	logrus.WithField("driver", a.config.Store.Driver).Info("payment store ready")
	return nil
}

// Run serves until ctx is cancelled, then drains connections and closes
// the store and sink.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.sink != nil {
		a.hub.Register(a.sink)
	}
	if a.limiter != nil {
		go a.limiter.CleanUp(hubCtx, limiterSweepInterval)
	}

	errCH := make(chan error, 2)

	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", ":"+a.config.GRPC.HealthPort)
		if err != nil {
			return fmt.Errorf("failed to listen for grpc health: %w", err)
		}
		go func() {
			errCH <- a.serveGRPC(lis)
		}()
	}

	srv := &http.Server{
		Addr:    ":" + a.config.App.Port,
		Handler: a.Router,
	}
	go func() {
		logrus.WithField("port", a.config.App.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCH <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case runErr = <-errCH:
		logrus.Errorf("server failed: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("http shutdown: %v", err)
	}
	if a.grpcServer != nil {
		a.health.Shutdown()
		a.grpcServer.GracefulStop()
	}
	return runErr
}

func (a *App) serveGRPC(lis net.Listener) error {
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logrus.WithField("addr", lis.Addr().String()).Info("grpc health server listening")
	if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}

func (a *App) close() {
	if a.sink != nil {
		a.hub.Unregister(a.sink)
		a.sink.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logrus.Errorf("closing db: %v", err)
		}
	}
}
