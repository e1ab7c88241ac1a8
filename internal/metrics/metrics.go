// Package metrics holds process-wide ingestion and delivery counters with a
// plain-text exposition endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	MessagesReceived    atomic.Int64
	MessagesInvalid     atomic.Int64
	IngestQueueDrops    atomic.Int64
	DBWriteSuccess      atomic.Int64
	DBWriteFailures     atomic.Int64
	DBChannelDrops      atomic.Int64
	MirrorChannelDrops  atomic.Int64
	MirrorWriteFailures atomic.Int64
	PushChannelDrops    atomic.Int64
	AlertChannelDrops   atomic.Int64
	AlertsFired         atomic.Int64
	FanoutBroadcasts    atomic.Int64
	FanoutDisconnects   atomic.Int64
	RollupBuckets       atomic.Int64
	RollupFailures      atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "fleetwatch_messages_received_total %d\n", MessagesReceived.Load())
	fmt.Fprintf(w, "fleetwatch_messages_invalid_total %d\n", MessagesInvalid.Load())
	fmt.Fprintf(w, "fleetwatch_ingest_queue_drops_total %d\n", IngestQueueDrops.Load())
	fmt.Fprintf(w, "fleetwatch_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "fleetwatch_db_write_failures_total %d\n", DBWriteFailures.Load())
	fmt.Fprintf(w, "fleetwatch_db_channel_drops_total %d\n", DBChannelDrops.Load())
	fmt.Fprintf(w, "fleetwatch_mirror_channel_drops_total %d\n", MirrorChannelDrops.Load())
	fmt.Fprintf(w, "fleetwatch_mirror_write_failures_total %d\n", MirrorWriteFailures.Load())
	fmt.Fprintf(w, "fleetwatch_push_channel_drops_total %d\n", PushChannelDrops.Load())
	fmt.Fprintf(w, "fleetwatch_alert_channel_drops_total %d\n", AlertChannelDrops.Load())
	fmt.Fprintf(w, "fleetwatch_alerts_fired_total %d\n", AlertsFired.Load())
	fmt.Fprintf(w, "fleetwatch_fanout_broadcasts_total %d\n", FanoutBroadcasts.Load())
	fmt.Fprintf(w, "fleetwatch_fanout_disconnects_total %d\n", FanoutDisconnects.Load())
	fmt.Fprintf(w, "fleetwatch_rollup_buckets_total %d\n", RollupBuckets.Load())
	fmt.Fprintf(w, "fleetwatch_rollup_failures_total %d\n", RollupFailures.Load())
}
