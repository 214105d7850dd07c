// Package metrics exposes the gateway persistence counters on the
// default prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixlog_messages_indexed_total",
		Help: "FIX messages recorded into the replay index.",
	})

	MessagesReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixlog_messages_replayed_total",
		Help: "FIX messages re-published in answer to resend requests.",
	})

	SectorChecksumFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixlog_sector_checksum_failures_total",
		Help: "Corrupted sectors reported during contexts file recovery.",
	})

	BackPressureRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixlog_publication_backpressure_retries_total",
		Help: "Claims retried because the outbound publication refused them.",
	})

	CatchupBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixlog_index_catchup_bytes_total",
		Help: "Journal bytes re-read to make indexes crash consistent.",
	})
)
