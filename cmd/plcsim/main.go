package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/simonvetter/modbus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type simConfig struct {
	Class             string `mapstructure:"class"`
	Listen            string `mapstructure:"listen"`
	UnitId            uint8  `mapstructure:"unit_id"`
	AutoCycleSeconds  uint32 `mapstructure:"auto_cycle_seconds"`
	MaxClients        uint   `mapstructure:"max_clients"`
	IdleTimeoutMillis uint32 `mapstructure:"idle_timeout_millis"`
}

func loadConfig() (simConfig, error) {
	v := viper.New()
	v.SetDefault("class", string(plc_modbus.CLASS_PRESSURE_VESSEL))
	v.SetDefault("listen", "0.0.0.0:5502")
	v.SetDefault("unit_id", 0)
	v.SetDefault("auto_cycle_seconds", 0)
	v.SetDefault("max_clients", 8)
	v.SetDefault("idle_timeout_millis", 30000)
	v.SetEnvPrefix("plcsim")
	v.AutomaticEnv()

	var cfg simConfig
	err := v.Unmarshal(&cfg)
	return cfg, err
}

func main() {

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}

	logger := zap.Must(zap.NewProduction())
	defer logger.Sync()

	class := plc_modbus.DeviceClass(cfg.Class)
	if !class.Valid() {
		logger.Error("unknown device class", zap.String("class", cfg.Class))
		os.Exit(1)
	}

	sim := plc_modbus.NewSimulator(class)
	_ = sim.Connect(context.Background())

	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + cfg.Listen,
		Timeout:    time.Duration(cfg.IdleTimeoutMillis) * time.Millisecond,
		MaxClients: cfg.MaxClients,
	}, newSimHandler(sim, cfg.UnitId, logger))
	if err != nil {
		logger.Error("cannot create modbus server", zap.Error(err))
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		logger.Error("cannot start modbus server", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("plc simulator listening", zap.String("listen", cfg.Listen), zap.String("class", cfg.Class),
		zap.String("version", versioninfo.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoCycleSeconds > 0 {
		go autoCycle(ctx, sim, time.Duration(cfg.AutoCycleSeconds)*time.Second, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Warn("modbus server stop", zap.Error(err))
	}
}

// autoCycle starts a new cycle every interval while the simulator is idle.
func autoCycle(ctx context.Context, sim *plc_modbus.Simulator, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sim.StartCycle() {
				logger.Info("cycle started")
			}
		}
	}
}
