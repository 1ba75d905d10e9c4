package main

import (
	"github.com/spf13/cobra"

	"github.com/ErenYanic/SEC-SemanticSearch/config"
	srv "github.com/ErenYanic/SEC-SemanticSearch/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return srv.Run(cfg)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.json)")

	return serve
}
