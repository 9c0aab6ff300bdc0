package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	MaxReconnects int
}

type statusPayload struct {
	Status domain.DeviceStatus `json:"status"`
	At     time.Time           `json:"at"`
}

// NATSPublisher mirrors readings and alerts as JSON messages on
// <prefix>.device.<serial>.reading and <prefix>.device.<serial>.alert.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "wastemon"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (p *NATSPublisher) subject(device, kind string) string {
	return fmt.Sprintf("%s.device.%s.%s", p.prefix, device, kind)
}

func (p *NATSPublisher) publish(subject string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		p.logger.Error("nats: could not marshal payload", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("nats: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *NATSPublisher) PublishReading(device string, reading plc_modbus.Reading) {
	p.publish(p.subject(device, "reading"), reading)
}

func (p *NATSPublisher) PublishAlert(device string, alert domain.Alert) {
	p.publish(p.subject(device, "alert"), alert)
}

func (p *NATSPublisher) PublishStatus(device string, status domain.DeviceStatus, at time.Time) {
	p.publish(p.subject(device, "status"), statusPayload{Status: status, At: at})
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
