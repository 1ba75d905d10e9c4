package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

func searchCMD() *cobra.Command {
	var serverURL string
	var topK int
	var ticker, formType, accession string
	var minSimilarity float64

	var search = &cobra.Command{
		Use:   "search QUERY",
		Short: "Semantic search over stored filings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			req := map[string]interface{}{
				"query": args[0],
				"top_k": topK,
			}
			if ticker != "" {
				req["ticker"] = ticker
			}
			if formType != "" {
				req["form_type"] = formType
			}
			if accession != "" {
				req["accession_number"] = accession
			}
			if cmd.Flags().Changed("min-similarity") {
				req["min_similarity"] = minSimilarity
			}

			var resp struct {
				Query   string              `json:"query"`
				Results []core.SearchResult `json:"results"`
				Count   int                 `json:"count"`
			}
			if err := client.post("/api/search", req, &resp); err != nil {
				return err
			}

			if resp.Count == 0 {
				fmt.Println("no results")
				return nil
			}
			bold := color.New(color.Bold)
			faint := color.New(color.Faint)
			for i, r := range resp.Results {
				bold.Printf("%d. %s %s %s  (similarity %.3f)\n", i+1, r.Ticker, r.FormType, r.FilingDate, r.Similarity)
				if r.Path != "" {
					faint.Printf("   %s\n", r.Path)
				}
				content := r.Content
				if len(content) > 400 {
					content = content[:400] + "..."
				}
				fmt.Printf("   %s\n\n", strings.ReplaceAll(content, "\n", " "))
			}
			return nil
		},
	}
	search.Flags().StringVar(&serverURL, "server", getenv("SECSEARCH_SERVER", "http://localhost:8080"), "server base URL")
	search.Flags().IntVar(&topK, "top-k", 5, "number of results")
	search.Flags().StringVar(&ticker, "ticker", "", "restrict to one ticker")
	search.Flags().StringVar(&formType, "form", "", "restrict to one form type")
	search.Flags().StringVar(&accession, "accession", "", "restrict to one filing")
	search.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "drop results below this similarity")

	return search
}
