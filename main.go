package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	appInventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	appOrder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domsaga "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/notify"
	infraobs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/redisstock"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/signature"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type stores struct {
	orders domorder.Repository
	stock  dominventory.Repository
	sagas  domsaga.Repository
	close  func()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseLogger, err := zaplogger.New(zaplogger.Options{Service: cfg.ServiceName, Env: cfg.Env, LogFile: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()

	registry := prometrics.New("")
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), baseLogger, infraobs.RegisterStandard(registry))
	systemLogger := tel.Logger().With(observability.F("component", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		return err
	}
	defer st.close()

	// In-memory event bus carries order.status_changed to the notification worker.
	bus := outbox.NewBus(tel.Logger(), outbox.Options{})
	bus.Start(context.Background())
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bus.Stop(stopCtx); err != nil {
			systemLogger.Warn("event_bus_stop_error", observability.F("error", err))
		}
	}()

	notifier, closeNotifier, err := buildNotifier(cfg, tel.Logger())
	if err != nil {
		return err
	}
	defer closeNotifier()

	lifecycle := appOrder.NewLifecycleManager(st.orders, bus, tel)
	coordinator := appInventory.NewCoordinator(st.stock, st.sagas, st.orders, id.UUIDs{}, tel)
	createOrder := appOrder.NewCreateOrderUseCase(st.orders, st.stock, id.NewOrderIDs(cfg.OrderIDPrefix), cfg.ShippingFeeMinor, tel)
	verifyPayment := appPayment.NewVerifyPaymentUseCase(
		signature.NewHMACVerifier(cfg.PaymentWebhookSecret), st.orders, coordinator, lifecycle, tel,
	)
	workerpresentation.NewNotificationWorker(bus, notification.NewNotifyUseCase(notifier, tel), tel).Start()

	handler := httppresentation.NewHandler(httppresentation.Services{
		CreateOrder:   createOrder,
		VerifyPayment: verifyPayment,
		Orders:        lifecycle,
		Stock:         st.stock,
		Metrics:       promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}),
	}, []byte(cfg.AdminJWTSecret), tel.Logger(), tel)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		recoveryLoop(gctx, coordinator, cfg, systemLogger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", observability.F("error", err))
			return err
		}
		systemLogger.Info("http_server_stopped")
		return nil
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, logger observability.Logger) (*stores, error) {
	st := &stores{close: func() {}}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		st.orders = postgres.NewOrderRepository(pool)
		st.stock = postgres.NewInventoryRepository(pool)
		st.sagas = postgres.NewSagaRepository(pool)
		st.close = pool.Close
	default:
		st.orders = memory.NewOrderRepository()
		st.stock = memory.NewInventoryRepository()
		st.sagas = memory.NewSagaRepository()
	}

	if cfg.InventoryDriver == config.InventoryRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			st.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st.stock = redisstock.New(client, "")
		closeStore := st.close
		st.close = func() {
			_ = client.Close()
			closeStore()
		}
	}

	logger.Info("stores_ready",
		observability.F("store_driver", cfg.StoreDriver),
		observability.F("inventory_driver", cfg.InventoryDriver),
	)
	return st, nil
}

func buildNotifier(cfg config.Config, logger observability.Logger) (notification.Notifier, func(), error) {
	var (
		notifiers notify.Multi
		closers   []func()
	)

	if cfg.SMTPEnabled() {
		email, err := notify.NewEmailNotifier(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			From:      cfg.MailFrom,
			StoreName: cfg.StoreName,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, email)
	} else {
		notifiers = append(notifiers, notify.NewLogNotifier(logger))
	}

	if cfg.KafkaEnabled() {
		kafka, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, kafka)
		closers = append(closers, kafka.Close)
	}

	return notifiers, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

// recoveryLoop sweeps unfinished reservation sagas at startup and then on
// every RECOVERY_INTERVAL tick until ctx is done.
func recoveryLoop(ctx context.Context, coordinator *appInventory.Coordinator, cfg config.Config, logger observability.Logger) {
	sweep := func() {
		report, err := coordinator.Recover(ctx, cfg.RecoveryMinAge)
		if err != nil {
			logger.Error("saga_recovery_failed", observability.F("error", err))
			return
		}
		if report.Scanned > 0 {
			logger.Info("saga_recovery_done",
				observability.F("scanned", report.Scanned),
				observability.F("rolled_forward", report.RolledForward),
				observability.F("reversed", report.Reversed),
				observability.F("escalated", report.Escalated),
			)
		}
	}

	sweep()
	ticker := time.NewTicker(cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
