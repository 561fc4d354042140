package main

import (
	"context"

	"block-auction/internal/config"
	"block-auction/internal/domain"
	"block-auction/internal/infrastructure/mysql"
	"block-auction/internal/infrastructure/sqlite"
	"block-auction/pkg/utils"
)

type stores struct {
	auctions  domain.AuctionRepository
	scheduler domain.SchedulerRepository
	close     func() error
}

// openStores returns the durable repositories for the configured driver.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == "sqlite" {
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{auctions: store, scheduler: store, close: store.Close}, nil
	}

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		return nil, err
	}
	return &stores{
		auctions:  mysql.NewMySQLAuctionRepository(db),
		scheduler: mysql.NewMySQLSchedulerRepository(db),
		close:     db.Close,
	}, nil
}
