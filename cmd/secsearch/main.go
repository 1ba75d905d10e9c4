package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:   "secsearch",
		Short: "Semantic search over SEC filings",
	}

	root.AddCommand(serveCMD(), migrateCMD(), ingestCMD(), searchCMD(), manageCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
