package ingest

import (
	"fleetwatch/internal/domain"
	"fleetwatch/internal/metrics"
)

// Dispatcher fans an enriched sample out to the persistence, mirror, push,
// and alert stages over independent bounded channels. Sends never block:
// a full stage drops the sample for that stage only, counted per channel,
// so one slow sink cannot stall ingestion or the other sinks.
type Dispatcher struct {
	DBChan     chan *domain.TelemetrySample
	MirrorChan chan *domain.TelemetrySample
	PushChan   chan *domain.TelemetrySample
	AlertChan  chan *domain.TelemetrySample
}

// NewDispatcher allocates the stage channels. mirrorSize == 0 disables the
// mirror stage entirely.
func NewDispatcher(dbSize, mirrorSize, pushSize, alertSize int) *Dispatcher {
	d := &Dispatcher{
		DBChan:    make(chan *domain.TelemetrySample, dbSize),
		PushChan:  make(chan *domain.TelemetrySample, pushSize),
		AlertChan: make(chan *domain.TelemetrySample, alertSize),
	}
	if mirrorSize > 0 {
		d.MirrorChan = make(chan *domain.TelemetrySample, mirrorSize)
	}
	return d
}

// Dispatch enqueues the sample to every stage without blocking.
func (d *Dispatcher) Dispatch(s *domain.TelemetrySample) {
	select {
	case d.DBChan <- s:
	default:
		metrics.DBChannelDrops.Add(1)
	}

	if d.MirrorChan != nil {
		select {
		case d.MirrorChan <- s:
		default:
			metrics.MirrorChannelDrops.Add(1)
		}
	}

	select {
	case d.PushChan <- s:
	default:
		metrics.PushChannelDrops.Add(1)
	}

	select {
	case d.AlertChan <- s:
	default:
		metrics.AlertChannelDrops.Add(1)
	}
}

// Close closes every stage channel so stage loops can drain and exit.
func (d *Dispatcher) Close() {
	close(d.DBChan)
	if d.MirrorChan != nil {
		close(d.MirrorChan)
	}
	close(d.PushChan)
	close(d.AlertChan)
}
