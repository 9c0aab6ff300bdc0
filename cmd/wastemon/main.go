package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/wastemon/internal/adapter/actor"
	"github.com/berfenger/wastemon/internal/adapter/publish"
	"github.com/berfenger/wastemon/internal/adapter/storage"
	"github.com/berfenger/wastemon/internal/adapter/tariff"
	"github.com/berfenger/wastemon/internal/config"
	"github.com/berfenger/wastemon/internal/core/actor"
	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/internal/core/service"
	"github.com/berfenger/wastemon/internal/metrics"
	"github.com/berfenger/wastemon/internal/server"
	"github.com/berfenger/wastemon/internal/util/actorutil"
	"github.com/berfenger/wastemon/pkg/plc_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	START_POLLING_TIMEOUT = 10 * time.Second
	SHUTDOWN_TIMEOUT      = 5 * time.Second
)

type storageBackend interface {
	port.Storage
	Close() error
}

type memoryBackend struct {
	*storage.MemoryStorage
}

func (memoryBackend) Close() error {
	return nil
}

func main() {

	// load and print config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	config.SafePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting wastemon", zap.String("version", versioninfo.Version),
		zap.String("revision", versioninfo.Revision))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, tariffs, err := initStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	eventStream := &eventstream.EventStream{}
	publisher, closePublishers := initPublishers(cfg, eventStream, logger)
	defer closePublishers()

	m := metrics.New()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, eventStream,
			pollerActorProvider(cfg, store, publisher, m, logger),
			energyActorProvider(cfg, store, tariffs, logger),
			mqttActorProvider(cfg, logger),
			logger)
	})
	pid, err := root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("cannot spawn master actor", zap.Error(err))
		os.Exit(1)
	}

	startPolling(cfg, root, pid, logger)

	srv := server.NewServer(*cfg, root, pid, m.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return gracefulShutdown(gctx, srv, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server error", zap.Error(err))
	}

	if err := root.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master actor did not stop cleanly", zap.Error(err))
	}
	as.Shutdown()
	logger.Info("graceful shutdown complete")
}

func gracefulShutdown(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	<-ctx.Done()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
		return err
	}
	return nil
}

func initStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storageBackend, port.TariffProvider, error) {
	tariffs, err := cfg.Tariffs()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Storage.Driver == config.STORAGE_POSTGRES {
		pg, err := storage.NewPostgresStorage(ctx, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		// configured tariffs are upserted by name
		for _, t := range tariffs {
			if err := pg.SaveTariff(ctx, t); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		return pg, pg, nil
	}

	return memoryBackend{storage.NewMemoryStorage()}, tariff.NewStaticProvider(tariffs), nil
}

func initPublishers(cfg *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) (port.Publisher, func()) {
	fanout := publish.Fanout{publish.NewStreamPublisher(eventStream)}
	var closers []func()

	if cfg.NATS.Enable {
		nc, err := publish.NewNATSPublisher(publish.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          "wastemon",
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		}, logger)
		if err != nil {
			// readings still reach storage and MQTT
			logger.Error("nats publisher disabled", zap.Error(err))
		} else {
			fanout = append(fanout, nc)
			closers = append(closers, func() { _ = nc.Close() })
		}
	}

	if cfg.Influx.Enable {
		ip := publish.NewInfluxPublisher(publish.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, logger)
		fanout = append(fanout, ip)
		closers = append(closers, ip.Close)
	}

	return fanout, func() {
		for _, c := range closers {
			c()
		}
	}
}

func pollerActorProvider(cfg *config.Config, store port.Storage, publisher port.Publisher, m *metrics.Metrics,
	logger *zap.Logger) actor.PollerActorProvider {
	pollerCfg := service.PollerConfig{
		MaxBackoffSteps:      cfg.Polling.MaxBackoffSteps,
		OfflineAfterFailures: cfg.Polling.OfflineAfterFailures,
	}
	instrument := m.PollInstrument()
	return func(device domain.DeviceProfile) (*actor.PollerActor, error) {
		transport, err := plc_modbus.NewTransport(device.Connection, logger.With(zap.String("device", device.Serial)),
			m.ModbusInstrument(device.Serial))
		if err != nil {
			return nil, err
		}
		poller := service.NewDevicePoller(device, transport, store, publisher, instrument, pollerCfg, logger)
		return actor.NewPollerActor(poller, actor.PollerActorConfig{StopTimeout: cfg.Polling.StopTimeout()}, logger), nil
	}
}

func energyActorProvider(cfg *config.Config, store service.EnergyStorage, tariffs port.TariffProvider,
	logger *zap.Logger) actor.EnergyActorProvider {
	return func() *actor.EnergyActor {
		svc := service.NewEnergyService(store, tariffs, cfg.Energy.CarbonFactor, logger)
		return actor.NewEnergyActor(svc, actor.EnergyActorConfig{
			RetryCount: cfg.Energy.RetryCount,
			RetryDelay: cfg.Energy.RetryDelay(),
		}, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func startPolling(cfg *config.Config, root *pactor.RootContext, master *pactor.PID, logger *zap.Logger) {
	profiles, err := cfg.DeviceProfiles()
	if err != nil {
		logger.Error("invalid device profiles", zap.Error(err))
		return
	}
	if len(profiles) == 0 {
		logger.Warn("no devices configured")
	}
	for _, profile := range profiles {
		res, err := root.RequestFuture(master, domain.StartPollingRequest{Device: profile}, START_POLLING_TIMEOUT).Result()
		if err != nil {
			logger.Error("start polling timed out", zap.String("device", profile.Serial), zap.Error(err))
			continue
		}
		if r, ok := res.(domain.StartPollingResponse); ok && r.HasResponseError() {
			logger.Error("start polling failed", zap.String("device", profile.Serial), zap.Error(r.ResponseError))
			continue
		}
		logger.Info("polling started", zap.String("device", profile.Serial),
			zap.String("target", profile.Connection.Target()))
	}
}
