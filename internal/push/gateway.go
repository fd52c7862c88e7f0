package push

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNoAddress is returned when Send is called without a delivery target.
var ErrNoAddress = errors.New("push address is empty")

// Gateway delivers a best-effort data message to one device. A nil error means
// the message was accepted by the gateway, not that it reached the device.
type Gateway interface {
	Send(ctx context.Context, address string, data map[string]string) error
}

// LogGateway stands in for a real gateway in development: it only logs.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, address string, data map[string]string) error {
	if address == "" {
		return ErrNoAddress
	}
	g.logger.Info("push (log gateway)", zap.Int("address_len", len(address)), zap.Any("data", data))
	return nil
}
