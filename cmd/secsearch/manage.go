package main

import (
	"fmt"
	"net/url"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/embed"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/store"
)

func manageCMD() *cobra.Command {
	var serverURL string

	var manage = &cobra.Command{
		Use:   "manage",
		Short: "Inspect and manage stored filings",
	}
	manage.PersistentFlags().StringVar(&serverURL, "server", getenv("SECSEARCH_SERVER", "http://localhost:8080"), "server base URL")

	var status = &cobra.Command{
		Use:   "status",
		Short: "Show storage and model status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Storage     store.Status `json:"storage"`
				Model       embed.Status `json:"model"`
				ActiveTasks int          `json:"active_tasks"`
			}
			if err := newAPIClient(serverURL).get("/api/status", &resp); err != nil {
				return err
			}
			fmt.Printf("filings:      %d / %d\n", resp.Storage.Filings, resp.Storage.MaxFilings)
			fmt.Printf("chunks:       %d\n", resp.Storage.Chunks)
			fmt.Printf("model:        %s (%s)\n", resp.Model.Model, resp.Model.State)
			if resp.Model.VRAMBytes > 0 {
				fmt.Printf("vram:         %.1f MiB\n", float64(resp.Model.VRAMBytes)/(1<<20))
			}
			fmt.Printf("active tasks: %d\n", resp.ActiveTasks)
			return nil
		},
	}

	var ticker, formType string
	var list = &cobra.Command{
		Use:   "list",
		Short: "List stored filings",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if ticker != "" {
				q.Set("ticker", ticker)
			}
			if formType != "" {
				q.Set("form_type", formType)
			}
			path := "/api/filings"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var resp struct {
				Filings []store.FilingRecord `json:"filings"`
				Count   int                  `json:"count"`
			}
			if err := newAPIClient(serverURL).get(path, &resp); err != nil {
				return err
			}
			if resp.Count == 0 {
				fmt.Println("no filings stored")
				return nil
			}
			for _, r := range resp.Filings {
				fmt.Printf("%-6s %-5s %s  %-22s %4d chunks\n",
					r.Filing.Ticker, r.Filing.FormType, r.Filing.DateString(),
					r.Filing.AccessionNumber, r.ChunkCount)
			}
			return nil
		},
	}
	list.Flags().StringVar(&ticker, "ticker", "", "filter by ticker")
	list.Flags().StringVar(&formType, "form", "", "filter by form type")

	var remove = &cobra.Command{
		Use:   "remove ACCESSION",
		Short: "Remove one filing from both stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				AccessionNumber string `json:"accession_number"`
				ChunksRemoved   int    `json:"chunks_removed"`
			}
			if err := newAPIClient(serverURL).delete("/api/filings/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("removed %s (%d chunks)\n", resp.AccessionNumber, resp.ChunksRemoved)
			return nil
		},
	}

	var yes bool
	var clear = &cobra.Command{
		Use:   "clear",
		Short: "Remove all stored filings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("this deletes every stored filing, continue? [y/N] ")
				var answer string
				_, _ = fmt.Scanln(&answer)
				if answer != "y" && answer != "Y" {
					fmt.Println("aborted")
					return nil
				}
			}
			var resp struct {
				FilingsRemoved int `json:"filings_removed"`
				ChunksRemoved  int `json:"chunks_removed"`
			}
			if err := newAPIClient(serverURL).delete("/api/filings?confirm=true", &resp); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("removed %d filings (%d chunks)\n", resp.FilingsRemoved, resp.ChunksRemoved)
			return nil
		},
	}
	clear.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	var unload = &cobra.Command{
		Use:   "unload-model",
		Short: "Free the embedding model's VRAM",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status embed.Status
			if err := newAPIClient(serverURL).delete("/api/resources/model", &status); err != nil {
				return err
			}
			fmt.Printf("model %s is now %s\n", status.Model, status.State)
			return nil
		},
	}

	var cancel = &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a running ingestion task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(serverURL).delete("/api/tasks/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Println("cancellation requested")
			return nil
		},
	}

	manage.AddCommand(status, list, remove, clear, unload, cancel)
	return manage
}
