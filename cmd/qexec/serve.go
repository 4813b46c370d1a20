package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/qexec/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the platform's QPUs over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stdout)
		if err != nil {
			return err
		}
		defer a.Close()

		a.logger.Info("qexec: starting",
			"listen_addr", a.cfg.ListenAddr,
			"db_path", a.cfg.DBPath,
			"qpus", a.engine.Platform().NumQPUs(),
		)

		srv := api.NewServer(a.cfg.ListenAddr, a.store, a.registry, a.engine, a.logger)
		return srv.Run(cmd.Context())
	},
}
