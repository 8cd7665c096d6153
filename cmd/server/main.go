package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pos-sync/config"
	"pos-sync/internal/api"
	"pos-sync/internal/broker"
	"pos-sync/internal/circuit"
	"pos-sync/internal/client"
	"pos-sync/internal/connectivity"
	"pos-sync/internal/kv"
	"pos-sync/internal/models"
	"pos-sync/internal/notify"
	"pos-sync/internal/queue"
	"pos-sync/internal/redisclient"
	"pos-sync/internal/retry"
	"pos-sync/internal/service"
	"pos-sync/internal/store"
	"pos-sync/internal/util"
	"pos-sync/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS sync service", zap.String("terminal", cfg.Server.TerminalID))

	tp, err := util.InitTracer(cfg.Server.TerminalID, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	backing, closeBacking, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open offline store: %v", err)
	}
	defer closeBacking()
	logger.Info("Offline store ready", zap.String("backend", cfg.Store.Backend))

	offlineStore := queue.NewOfflineStore(backing)

	backOffice := client.New(cfg.POS.APIBaseURL, cfg.POS.RequestTimeout)
	breaker := circuit.New("back-office",
		circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
		circuit.WithResetTimeout(cfg.Breaker.ResetTimeout),
		circuit.WithFailurePredicate(retry.DefaultRetryable),
	)
	retryOpts := retry.DefaultOptions()
	retryOpts.MaxRetries = cfg.Retry.MaxRetries
	retryOpts.BaseDelay = cfg.Retry.BaseDelay
	retryOpts.MaxDelay = cfg.Retry.MaxDelay
	retryOpts.BackoffFactor = cfg.Retry.BackoffFactor
	retryOpts.Jitter = cfg.Retry.Jitter
	submitter := service.NewBackOfficeSubmitter(backOffice, breaker, retryOpts,
		cfg.POS.TransactionPath, cfg.POS.InventoryPath)

	var (
		sig    connectivity.Signal
		manual *connectivity.ManualSignal
		ifaces *connectivity.InterfaceSignal
	)
	switch cfg.POS.SignalMode {
	case "manual":
		manual = connectivity.NewManualSignal(true)
		sig = manual
	default:
		ifaces = connectivity.NewInterfaceSignal(cfg.POS.SignalPollInterval)
		sig = ifaces
	}

	toasts := notify.NewStream()
	sinks := notify.Multi{notify.NewLogSink(), toasts}

	var (
		syncEvents  service.SyncEventPublisher
		publisher   *broker.EventPublisher
		brokerSink  *notify.BrokerSink
		commandWork *worker.CommandWorker
	)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

		publisher = broker.NewEventPublisher(producer, cfg.Server.TerminalID)
		syncEvents = publisher
		brokerSink = notify.NewBrokerSink(publisher, 5*time.Second)
		sinks = append(sinks, brokerSink)
	}

	orchestrator := service.NewSyncOrchestrator(offlineStore, submitter, sig, sinks, syncEvents)

	prober := connectivity.NewHTTPProber(backOffice.URL(cfg.POS.VerifyPath), cfg.POS.ProbeTimeout, cfg.POS.ProbeRequireHealthy)
	oracle := connectivity.NewOracle(sig, prober, offlineStore, orchestrator, cfg.POS.AutoSyncDelay)
	oracle.OnChange(func(change models.ModeChange) {
		if change.IsOffline {
			sinks.Warning("Working offline. Sales will be synced when the connection returns")
		} else {
			sinks.Info("Back online")
		}
		if publisher == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := publisher.PublishModeChanged(ctx, change); err != nil {
				logger.Warn("Failed to publish mode change", zap.Error(err))
			}
		}()
	})

	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
		commandWork = worker.NewCommandWorker(consumer, cfg.Server.TerminalID, orchestrator, offlineStore)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	var setter api.SignalSetter
	if manual != nil {
		setter = manual
	}
	handler := api.NewHandler(offlineStore, orchestrator, oracle, setter, toasts)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if ifaces != nil {
		g.Go(func() error {
			return ifaces.Run(gctx)
		})
	}

	if commandWork != nil {
		g.Go(func() error {
			return commandWork.Start(gctx)
		})
	}

	oracle.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		oracle.Stop()
		if commandWork != nil {
			if err := commandWork.Stop(); err != nil {
				logger.Warn("Command worker did not stop cleanly", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}
	if brokerSink != nil {
		brokerSink.Wait()
	}

	logger.Info("Server exited")
}

// openStore selects the kv backend for the offline queue
func openStore(cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := store.NewStore(cfg.Store.DatabaseURL, cfg.Server.TerminalID)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	case "memory":
		return kv.NewMemory(), func() {}, nil
	default:
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Server.TerminalID)
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { _ = rc.Close() }, nil
	}
}
