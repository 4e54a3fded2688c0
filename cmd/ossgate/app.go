package main

import (
	"context"

	"github.com/koustreak/ossgate/internal/config"
	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/listing"
	"github.com/koustreak/ossgate/internal/filestore/minio"
	"github.com/koustreak/ossgate/internal/filestore/oss"
	"github.com/koustreak/ossgate/internal/ledger"
	"github.com/koustreak/ossgate/internal/ledger/mysql"
	"github.com/koustreak/ossgate/internal/ledger/postgres"
	"github.com/koustreak/ossgate/internal/logger"
	"github.com/koustreak/ossgate/internal/server"
)

// app holds what every subcommand shares once the configuration is loaded.
type app struct {
	cfg *config.Config
	log *logger.Logger

	store    filestore.Store
	signing  filestore.Signing
	policies server.PolicyIssuer // nil for providers without POST policies
}

// newApp builds the storage driver selected by cfg.Storage.Provider.
func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	listOpts := []listing.Option{
		listing.WithMaxKeys(cfg.Listing.MaxKeys),
		listing.WithParallelism(cfg.Listing.Parallelism),
	}

	a := &app{cfg: cfg, log: log}
	switch cfg.Storage.Provider {
	case filestore.ProviderMinIO:
		drv, err := minio.New(&cfg.Storage, minio.WithLogger(log), minio.WithListingOptions(listOpts...))
		if err != nil {
			return nil, err
		}
		a.store, a.signing = drv, drv
	case "", filestore.ProviderOSS:
		drv, err := oss.New(&cfg.Storage, oss.WithLogger(log), oss.WithListingOptions(listOpts...))
		if err != nil {
			return nil, err
		}
		a.store, a.signing, a.policies = drv, drv, drv
	default:
		return nil, errs.Configuration("unknown storage provider %q", cfg.Storage.Provider)
	}
	return a, nil
}

// openLedger connects the configured ledger. It returns nil when the ledger
// is disabled.
func (a *app) openLedger(ctx context.Context) (ledger.Ledger, error) {
	cfg := &a.cfg.Ledger
	switch cfg.Driver {
	case ledger.DriverPostgres:
		l, err := postgres.New(ctx, cfg, a.log)
		if err != nil {
			return nil, err
		}
		return l, nil
	case ledger.DriverMySQL:
		l, err := mysql.New(ctx, cfg, a.log)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "", ledger.DriverNone:
		return nil, nil
	default:
		return nil, errs.Configuration("unknown ledger driver %q", cfg.Driver)
	}
}
