// cmd/catalog-service/main.go
package main

import (
	"github.com/rs/zerolog/log"

	"quickstock/internal/pkg/bootstrap"
	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/catalog"
)

const (
	serviceName = "catalog-service"
	defaultPort = 8083
)

func main() {
	cfg, err := bootstrap.LoadConfig(serviceName, defaultPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	book := catalog.NewBook()
	if path := cfg.Catalog.ProductsFile; path != "" {
		if book, err = catalog.LoadBook(path); err != nil {
			log.Fatal().Err(err).Msg("failed to load catalog")
		}
	} else {
		log.Warn().Msg("no catalog file configured, every SKU will be unknown")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			catalog.NewHandler(book).RegisterRoutes(appCtx.Mux)
		},
	})
}
