// Package metrics holds the Prometheus collectors of the read layer.
//
// Collectors are registered on the default registry through promauto, so
// importing the package is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CursorBorrows counts cursors handed out by an arena, labeled by cursor
	// kind and whether the slot was reused or freshly allocated.
	CursorBorrows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nornicstore_cursor_borrows_total",
			Help: "Total number of cursors borrowed from cursor arenas",
		},
		[]string{"cursor", "slot"},
	)

	// CursorMisuse counts Get calls without a preceding successful Next.
	CursorMisuse = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nornicstore_cursor_misuse_total",
			Help: "Total number of cursor contract violations",
		},
		[]string{"cursor"},
	)

	// RereadRaces counts single-record re-reads that failed under a read lock.
	RereadRaces = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nornicstore_reread_races_total",
			Help: "Total number of failed record re-reads under a short read lock",
		},
		[]string{"store"},
	)

	// ChainHolesSkipped counts not-in-use records stepped over mid-chain.
	ChainHolesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nornicstore_chain_holes_skipped_total",
			Help: "Total number of not-in-use records skipped while walking record chains",
		},
		[]string{"store"},
	)

	// LabelCacheRequests counts label cache lookups by result (hit, miss).
	LabelCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nornicstore_label_cache_requests_total",
			Help: "Total number of node label cache lookups",
		},
		[]string{"result"},
	)

	// LabelCacheLoads counts loader invocations after singleflight collapsing.
	LabelCacheLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nornicstore_label_cache_loads_total",
			Help: "Total number of node label loader invocations",
		},
	)

	// SchemaRules tracks the number of cached schema rules by kind (index, constraint).
	SchemaRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nornicstore_schema_rules",
			Help: "Number of schema rules held by the schema cache",
		},
		[]string{"kind"},
	)
)
