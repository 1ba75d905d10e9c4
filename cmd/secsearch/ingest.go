package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

func ingestCMD() *cobra.Command {
	var serverURL string
	var forms []string
	var count int
	var mode string
	var year int
	var startDate, endDate string
	var noStream bool

	var ingest = &cobra.Command{
		Use:   "ingest TICKER [TICKER...]",
		Short: "Fetch, process and store SEC filings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			req := map[string]interface{}{
				"tickers":    args,
				"form_types": forms,
				"count":      count,
				"mode":       mode,
			}
			if year > 0 {
				req["year"] = year
			}
			if startDate != "" {
				req["start_date"] = startDate
			}
			if endDate != "" {
				req["end_date"] = endDate
			}

			path := "/api/ingest"
			if len(args) > 1 {
				path = "/api/ingest/batch"
			}
			var resp struct {
				TaskID string `json:"task_id"`
			}
			if err := client.post(path, req, &resp); err != nil {
				return err
			}
			fmt.Printf("task %s accepted\n", resp.TaskID)
			if noStream {
				return nil
			}
			return streamTask(client, resp.TaskID)
		},
	}
	ingest.Flags().StringVar(&serverURL, "server", getenv("SECSEARCH_SERVER", "http://localhost:8080"), "server base URL")
	ingest.Flags().StringSliceVar(&forms, "forms", []string{"10-K"}, "form types (10-K, 10-Q)")
	ingest.Flags().IntVar(&count, "count", 0, "filings per ticker (0 = latest)")
	ingest.Flags().StringVar(&mode, "mode", "per_form", "count mode: per_form or total")
	ingest.Flags().IntVar(&year, "year", 0, "only filings from this year")
	ingest.Flags().StringVar(&startDate, "start", "", "only filings on or after this date (YYYY-MM-DD)")
	ingest.Flags().StringVar(&endDate, "end", "", "only filings on or before this date (YYYY-MM-DD)")
	ingest.Flags().BoolVar(&noStream, "no-stream", false, "do not follow task progress")

	return ingest
}

// streamTask follows a task over the websocket and renders progress
// until the terminal event arrives.
func streamTask(client *apiClient, taskID string) error {
	conn, _, err := websocket.DefaultDialer.Dial(client.wsURL(taskID), nil)
	if err != nil {
		return fmt.Errorf("connecting to progress stream: %w", err)
	}
	defer conn.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	var bar *progressbar.ProgressBar
	for {
		if err := conn.SetReadDeadline(time.Now().Add(10 * time.Minute)); err != nil {
			return err
		}
		var ev tasks.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("progress stream closed early: %w", err)
		}
		snap := ev.Snapshot

		switch ev.Type {
		case tasks.EventSnapshot:
			if bar == nil && snap.FilingsTotal > 0 {
				bar = newFilingBar(snap.FilingsTotal)
			}
		case tasks.EventStep:
			if bar == nil && snap.FilingsTotal > 0 {
				bar = newFilingBar(snap.FilingsTotal)
			}
			if bar != nil {
				bar.Describe(fmt.Sprintf("%s %s: %s (%d/%d)",
					snap.CurrentTicker, snap.CurrentForm, snap.Step, snap.StepNumber, snap.StepTotal))
			}
		case tasks.EventFilingDone:
			finishFiling(bar)
			green.Printf("  done    %s %s %s (%d chunks)\n",
				ev.Filing.Ticker, ev.Filing.FormType, ev.Filing.FilingDate, ev.Filing.ChunkCount)
		case tasks.EventFilingSkipped:
			finishFiling(bar)
			yellow.Printf("  skipped %s %s %s: %s\n",
				ev.Filing.Ticker, ev.Filing.FormType, ev.Filing.FilingDate, ev.Filing.Error)
		case tasks.EventFilingFailed:
			finishFiling(bar)
			red.Printf("  failed  %s %s: %s\n", ev.Filing.Ticker, ev.Filing.FormType, ev.Filing.Error)
		case tasks.EventCompleted:
			clearBar(bar)
			green.Printf("task completed: %d stored, %d skipped, %d failed\n",
				snap.FilingsDone, snap.FilingsSkipped, snap.FilingsFailed)
			return nil
		case tasks.EventCancelled:
			clearBar(bar)
			yellow.Println("task cancelled, stored filings rolled back")
			return nil
		case tasks.EventFailed:
			clearBar(bar)
			red.Printf("task failed: %s\n", snap.Error)
			return fmt.Errorf("ingestion failed: %s", snap.Error)
		}
	}
}

func newFilingBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
}

func finishFiling(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
		fmt.Println()
	}
}

func clearBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
