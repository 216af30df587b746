//go:build wireinject

package app

import (
	"context"

	"marketcache/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, path ConfigPath) (*App, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
