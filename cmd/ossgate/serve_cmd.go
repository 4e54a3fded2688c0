package main

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/server"
)

func newServeCmd(get func() *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Starts the HTTP gateway on server.addr. When a ledger is configured its
table is created first unless --migrate=false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()

			l, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			if l != nil {
				defer l.Close()
				if migrate {
					if err := l.Migrate(ctx); err != nil {
						return err
					}
				}
			}

			a.log.With().
				Str("provider", string(a.cfg.Storage.Provider)).
				Str("bucket", a.cfg.Storage.Bucket).
				Bool("ledger", l != nil).
				Bool("policies", a.policies != nil).
				Logger().Info("starting ossgate")

			srv := server.New(a.cfg.Server, a.cfg.Upload, server.Deps{
				Store:    a.store,
				Signing:  a.signing,
				Policies: a.policies,
				Ledger:   l,
				Log:      a.log,
			})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create the ledger table before serving")
	return cmd
}

func newMigrateCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the upload ledger table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			if l == nil {
				return errs.Configuration("ledger.driver is not set")
			}
			defer l.Close()

			if err := l.Migrate(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("ledger table ready (%s)\n", a.cfg.Ledger.Driver)
			return nil
		},
	}
}
