//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/hermesync/hermesync/internal/core/observability/log"
	"github.com/hermesync/hermesync/internal/core/registry"
	"github.com/hermesync/hermesync/internal/core/world"
)

func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelDebug)
}

func ProvideWorld() *world.World {
	wire.Build(registry.Default, provideWorldConfig, world.New)
	return nil
}

func provideWorldConfig(reg *registry.Registry) world.Config {
	return world.Config{Registry: reg}
}
