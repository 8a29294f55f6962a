package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/credcheck/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for credential evaluation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEvaluation(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		return server.New(env.Service, env.Store, cfg.Server).ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	addSeedFlag(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
