package util

import (
	"github.com/berfenger/wastemon/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Devices: []config.DeviceConfig{
			{
				Serial:             "AC-1001",
				Name:               "Test autoclave",
				Class:              "autoclave",
				Connection:         "simulated",
				PollIntervalMillis: 100,
			},
		},
		Polling: config.PollingConfig{
			IntervalMillis:       100,
			MaxBackoffSteps:      8,
			OfflineAfterFailures: 3,
			StopTimeoutMillis:    1000,
		},
		Storage: config.StorageConfig{
			Driver: config.STORAGE_MEMORY,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "wastemon",
		},
		Energy: config.EnergyConfig{
			CarbonFactor:     0.592,
			RetryCount:       3,
			RetryDelayMillis: 50,
		},
		Port: 8080,
	}
}
