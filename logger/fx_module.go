package logger

import (
	"context"

	"go.uber.org/fx"
)

// FXModule wires the logger into an Fx-based application.
//
// A logger.Config instance must be available in the dependency injection
// container. On shutdown the module flushes any buffered entries.
var FXModule = fx.Module("logger",
	fx.Provide(
		NewLogger,
	),
	fx.Invoke(RegisterLoggerLifecycle),
)

// RegisterLoggerLifecycle registers a shutdown hook that syncs the underlying
// Zap logger so buffered entries are not lost on termination.
func RegisterLoggerLifecycle(lc fx.Lifecycle, client *Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Zap.Sync()
		},
	})
}
