package di

import (
	"context"

	"snapgram/internal/api"
	"snapgram/internal/config"
	"snapgram/internal/docstore"
)

type Application struct {
	Config *config.Config
	Store  docstore.Store
	Server *api.Server
}

// ProvideStore picks the store backend: MongoDB normally, the in-process
// one when STORE_DRIVER=memory (development).
func ProvideStore(cfg *config.Config) (docstore.Store, func(), error) {
	if cfg.Sync.UseMemoryStore {
		return docstore.NewMemStore(), func() {}, nil
	}
	store, err := docstore.NewMongoStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = store.Close(context.Background())
	}
	return store, cleanup, nil
}
