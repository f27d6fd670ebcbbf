package pgadapter

import (
	"context"

	"go.uber.org/fx"

	"github.com/objectstack/pgadapter/logger"
)

// FXModule provides the adapter for dependency injection. Applications
// provide a Config (and the logger module); the adapter connects on start
// and releases its pool on stop.
var FXModule = fx.Module("pgadapter",
	fx.Provide(NewAdapterWithDI),
	fx.Invoke(RegisterAdapterLifecycle),
)

// AdapterParams groups the dependencies needed to construct the adapter
// through the dependency container.
type AdapterParams struct {
	fx.In

	Config Config
	Logger *logger.Logger
}

// NewAdapterWithDI constructs the adapter from injected dependencies.
func NewAdapterWithDI(params AdapterParams) (*Adapter, error) {
	return NewAdapter(context.Background(), params.Config, params.Logger)
}

// RegisterAdapterLifecycle initializes the database on start and closes the
// pool on stop.
func RegisterAdapterLifecycle(lc fx.Lifecycle, adapter *Adapter) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return adapter.PerformInitialization(ctx)
		},
		OnStop: func(ctx context.Context) error {
			adapter.Close()
			return nil
		},
	})
}
