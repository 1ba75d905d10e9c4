package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secsearch_tasks_started_total",
		Help: "Ingestion tasks that acquired the pipeline slot.",
	})
	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secsearch_tasks_finished_total",
		Help: "Ingestion tasks by terminal state.",
	}, []string{"state"})
	filingsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secsearch_filings_ingested_total",
		Help: "Filings fully processed and stored.",
	})
	chunksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secsearch_chunks_stored_total",
		Help: "Chunks written to the vector store.",
	})
)
