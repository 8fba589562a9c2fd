package config

import (
	"context"
	"errors"
	"log/slog"

	"i2cserver-go/bus"
	"i2cserver-go/x/logx"
)

// ConfigService publishes the board's configuration on the diagnostics bus,
// one retained message per section under config/<section>.
type ConfigService struct {
	Name string
	log  *slog.Logger
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName, log: logx.For(logx.ComponentConfig)}
}

func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	board, _ := ctx.Value(CtxDeviceKey).(string)
	if board == "" {
		return errors.New("missing board name in context")
	}
	f, err := ForBoard(board)
	if err != nil {
		return err
	}
	s.Publish(conn, f)
	return nil
}

// Publish posts f's sections as retained messages.
func (s *ConfigService) Publish(conn *bus.Connection, f *File) {
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "server"), f.Server, true))
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "controllers"), f.Controllers, true))
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "tasks"), f.Tasks, true))
}

// Start publishes the embedded config of the board named in ctx.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.Error("config publish failed", "err", err)
		}
	}()
}
