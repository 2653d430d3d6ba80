//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"snapgram/internal/api"
	"snapgram/internal/config"
	"snapgram/internal/mutate"
	"snapgram/internal/profile"
)

func InitializeApplication() (*Application, func(), error) {
	wire.Build(
		config.LoadConfig,
		ProvideStore,
		profile.NewService,
		mutate.NewMutator,
		api.NewServer,
		wire.Struct(new(Application), "*"),
	)
	return nil, nil, nil
}
