package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

const (
	STORAGE_MEMORY   = "memory"
	STORAGE_POSTGRES = "postgres"
)

type Config struct {
	LogLevel zapcore.Level
	Port     uint           `mapstructure:"port"`
	HttpLog  bool           `mapstructure:"http_log"`
	Demo     bool           `mapstructure:"demo"`
	Devices  []DeviceConfig `mapstructure:"devices"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Energy   EnergyConfig   `mapstructure:"energy"`
}

type DeviceConfig struct {
	Serial             string
	Name               string
	Class              string
	Connection         string
	SerialPort         string `mapstructure:"serial_port"`
	BaudRate           int    `mapstructure:"baud_rate"`
	Host               string
	Port               uint
	SlaveId            uint8  `mapstructure:"slave_id"`
	TimeoutMillis      uint32 `mapstructure:"timeout_millis"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type PollingConfig struct {
	IntervalMillis       uint32 `mapstructure:"interval_millis"`
	MaxBackoffSteps      int    `mapstructure:"max_backoff_steps"`
	OfflineAfterFailures int    `mapstructure:"offline_after_failures"`
	StopTimeoutMillis    uint32 `mapstructure:"stop_timeout_millis"`
}

type StorageConfig struct {
	Driver  string
	DSN     string
	Migrate bool
}

type MQTTConfig struct {
	Enable    bool
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

type NATSConfig struct {
	Enable        bool
	URL           string
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type InfluxConfig struct {
	Enable bool
	URL    string
	Token  string
	Org    string
	Bucket string
}

type EnergyConfig struct {
	CarbonFactor     float64        `mapstructure:"carbon_factor"`
	RetryCount       int            `mapstructure:"retry_count"`
	RetryDelayMillis uint32         `mapstructure:"retry_delay_millis"`
	Tariffs          []TariffConfig `mapstructure:"tariffs"`
}

type TariffConfig struct {
	Name              string
	ElectricityPerKWh string `mapstructure:"electricity_per_kwh"`
	WaterPerLiter     string `mapstructure:"water_per_liter"`
	FuelPerLiter      string `mapstructure:"fuel_per_liter"`
	EffectiveFrom     string `mapstructure:"effective_from"`
	EffectiveTo       string `mapstructure:"effective_to"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

var serialRegexp = regexp.MustCompile("^[A-Za-z0-9_-]+$")

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (p PollingConfig) Interval() time.Duration {
	return millis(p.IntervalMillis)
}

func (p PollingConfig) StopTimeout() time.Duration {
	return millis(p.StopTimeoutMillis)
}

func (e EnergyConfig) RetryDelay() time.Duration {
	return millis(e.RetryDelayMillis)
}

// Profile validates a configured device and turns it into the snapshot a
// polling loop is started with.
func (d DeviceConfig) Profile(defaultInterval time.Duration) (domain.DeviceProfile, error) {
	if !serialRegexp.MatchString(d.Serial) {
		return domain.DeviceProfile{}, fmt.Errorf("device %q: serial can only contain letters, numbers, dashes and underscores", d.Serial)
	}
	class := plc_modbus.DeviceClass(strings.ToLower(d.Class))
	if !class.Valid() {
		return domain.DeviceProfile{}, fmt.Errorf("device %s: unknown class %q", d.Serial, d.Class)
	}
	kind := plc_modbus.ConnectionKind(strings.ToLower(d.Connection))
	switch kind {
	case plc_modbus.CONNECTION_SIMULATED:
	case plc_modbus.CONNECTION_SERIAL:
		if d.SerialPort == "" {
			return domain.DeviceProfile{}, fmt.Errorf("device %s: serial connection requires serial_port", d.Serial)
		}
	case plc_modbus.CONNECTION_NETWORK:
		if d.Host == "" {
			return domain.DeviceProfile{}, fmt.Errorf("device %s: network connection requires host", d.Serial)
		}
	default:
		return domain.DeviceProfile{}, fmt.Errorf("device %s: unknown connection %q", d.Serial, d.Connection)
	}
	interval := millis(d.PollIntervalMillis)
	if interval <= 0 {
		interval = defaultInterval
	}
	name := d.Name
	if name == "" {
		name = d.Serial
	}
	return domain.DeviceProfile{
		Serial: d.Serial,
		Name:   name,
		Class:  class,
		Connection: plc_modbus.ConnectionConfig{
			Kind:       kind,
			Class:      class,
			SerialPort: d.SerialPort,
			BaudRate:   d.BaudRate,
			Host:       d.Host,
			Port:       d.Port,
			SlaveId:    d.SlaveId,
			Timeout:    millis(d.TimeoutMillis),
		},
		PollInterval: interval,
	}, nil
}

func (t TariffConfig) Tariff() (domain.Tariff, error) {
	rate := func(name, value string) (decimal.Decimal, error) {
		if value == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("tariff %s: invalid %s %q", t.Name, name, value)
		}
		return d, nil
	}
	var out domain.Tariff
	var err error
	out.Name = t.Name
	if out.ElectricityPerKWh, err = rate("electricity_per_kwh", t.ElectricityPerKWh); err != nil {
		return out, err
	}
	if out.WaterPerLiter, err = rate("water_per_liter", t.WaterPerLiter); err != nil {
		return out, err
	}
	if out.FuelPerLiter, err = rate("fuel_per_liter", t.FuelPerLiter); err != nil {
		return out, err
	}
	if out.EffectiveFrom, err = time.Parse(time.DateOnly, t.EffectiveFrom); err != nil {
		return out, fmt.Errorf("tariff %s: invalid effective_from %q", t.Name, t.EffectiveFrom)
	}
	if t.EffectiveTo != "" {
		to, err := time.Parse(time.DateOnly, t.EffectiveTo)
		if err != nil {
			return out, fmt.Errorf("tariff %s: invalid effective_to %q", t.Name, t.EffectiveTo)
		}
		out.EffectiveTo = &to
	}
	return out, nil
}

// demoDevices are polled when demo mode is on and no device is configured.
var demoDevices = []DeviceConfig{
	{Serial: "AC-DEMO-1", Name: "Demo autoclave", Class: string(plc_modbus.CLASS_PRESSURE_VESSEL), Connection: string(plc_modbus.CONNECTION_SIMULATED)},
	{Serial: "INC-DEMO-1", Name: "Demo incinerator", Class: string(plc_modbus.CLASS_COMBUSTION), Connection: string(plc_modbus.CONNECTION_SIMULATED)},
}

func (c Config) DeviceProfiles() ([]domain.DeviceProfile, error) {
	devices := c.Devices
	if len(devices) == 0 && c.Demo {
		devices = demoDevices
	}
	profiles := make([]domain.DeviceProfile, 0, len(devices))
	seen := map[string]bool{}
	for _, d := range devices {
		p, err := d.Profile(c.Polling.Interval())
		if err != nil {
			return nil, err
		}
		if seen[p.Serial] {
			return nil, fmt.Errorf("device %s: duplicated serial", p.Serial)
		}
		seen[p.Serial] = true
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (c Config) Tariffs() ([]domain.Tariff, error) {
	tariffs := make([]domain.Tariff, 0, len(c.Energy.Tariffs))
	for _, t := range c.Energy.Tariffs {
		tariff, err := t.Tariff()
		if err != nil {
			return nil, err
		}
		tariffs = append(tariffs, tariff)
	}
	return tariffs, nil
}
