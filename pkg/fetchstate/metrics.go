package fetchstate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statePrunedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_state_pruned_total",
		Help: "Expired state entries discarded on load",
	}, []string{"kind"}) // "snapshot", "cube"

	statePersistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_state_persist_total",
		Help: "State writes to blob storage",
	}, []string{"kind", "result"})

	vaultSkippedIDs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_vault_skipped_ids_total",
		Help: "Dimension ids skipped because they were already downloaded today",
	}, []string{"kind"})
)
