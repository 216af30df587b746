package app

import (
	"context"

	"marketcache/internal/config"

	"github.com/google/wire"
)

// ProviderSet builds an App from the loaded config.
var ProviderSet = wire.NewSet(
	provideAppBuilder,
	wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
	provideAppFromBuilder,
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppBuilder(cfg *config.Config, path ConfigPath) *AppBuilder {
	return NewAppBuilder(cfg, path)
}

func provideAppFromBuilder(ctx context.Context, b appBuilderDeps) (*App, error) {
	return b.Build(ctx)
}
