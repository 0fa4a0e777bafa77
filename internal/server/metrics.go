package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokoni_searches_created_total",
		Help: "Number of searches created.",
	})
	nodeExpansions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokoni_node_expansions_total",
		Help: "Node expansion attempts by outcome.",
	}, []string{"outcome"})
	expansionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kokoni_node_expansion_duration_seconds",
		Help:    "Wall time of node expansions, LLM call included.",
		Buckets: prometheus.DefBuckets,
	})
	reportBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokoni_report_blocks_total",
		Help: "Report blocks written by outcome.",
	}, []string{"outcome"})
)
