// Package monitor runs the polling workers: one goroutine per meter, each
// fetching status on the shared interval and feeding the snapshot pipeline.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "meterflow/config"
	"meterflow/internal/channel"
	"meterflow/logger"
	"meterflow/models"
	"meterflow/processor"
	"meterflow/reader"
	"meterflow/tracker"
)

// StatusFetcher fetches one meter's current status payload.
type StatusFetcher interface {
	GetMeterStatus(ctx context.Context, meterID string) (map[string]any, error)
}

// AuditStore appends poll outcomes to the audit trail.
type AuditStore interface {
	AppendSnapshot(s *models.Snapshot, anomalies map[string]map[string]any) (int64, error)
}

// Monitor owns the polling workers for a fixed set of meters. All workers
// share one tracker, one store, and one polling interval.
type Monitor struct {
	config   *appconfig.Config
	fetcher  StatusFetcher
	tracker  *tracker.Tracker
	store    AuditStore
	channels *channel.Channels
	meters   []reader.Meter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// New assembles a monitor. channels may be nil when archiving is disabled.
func New(cfg *appconfig.Config, fetcher StatusFetcher, trk *tracker.Tracker, store AuditStore, channels *channel.Channels, meters []reader.Meter) *Monitor {
	return &Monitor{
		config:   cfg,
		fetcher:  fetcher,
		tracker:  trk,
		store:    store,
		channels: channels,
		meters:   meters,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches one polling worker per meter. Each worker polls once
// immediately, then on the shared interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	if len(m.meters) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("no meters to monitor")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	log := m.log.WithComponent("monitor").WithFields(logger.Fields{
		"meters":   len(m.meters),
		"interval": m.config.Polling.Interval(),
	})
	log.Info("starting monitor")

	for _, meter := range m.meters {
		m.wg.Add(1)
		go m.pollWorker(meter)
	}

	log.Info("monitor started")
	return nil
}

// Stop waits for all polling workers to finish their current poll.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.log.WithComponent("monitor").Info("stopping monitor")
	m.wg.Wait()
	m.log.WithComponent("monitor").Info("monitor stopped")
}

func (m *Monitor) pollWorker(meter reader.Meter) {
	defer m.wg.Done()

	interval := m.config.Polling.Interval()
	log := m.log.WithComponent("monitor").WithFields(logger.Fields{
		"meter_id":   meter.ID,
		"meter_name": meter.Name,
	})
	log.Info("polling worker started")

	m.pollOnce(meter)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			log.Info("polling worker stopped due to context cancellation")
			return
		case <-timer.C:
			start := time.Now()
			m.pollOnce(meter)
			elapsed := time.Since(start)
			if elapsed > interval {
				log.WithFields(logger.Fields{
					"poll_duration": elapsed,
					"interval":      interval,
				}).Warn("poll took longer than interval")
			}
			timer.Reset(interval)
		}
	}
}

// pollOnce runs the full pipeline for one meter: fetch, snapshot, delta
// update, anomaly detection, audit append, archive enqueue.
func (m *Monitor) pollOnce(meter reader.Meter) {
	log := m.log.WithComponent("monitor").WithFields(logger.Fields{"meter_id": meter.ID})

	start := time.Now()
	payload, err := m.fetcher.GetMeterStatus(m.ctx, meter.ID)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		snapshot := models.NewErrorSnapshot(meter.ID, err.Error())
		snapshot.MeterName = meter.Name
		if _, storeErr := m.store.AppendSnapshot(snapshot, nil); storeErr != nil {
			log.WithError(storeErr).Error("failed to store error snapshot")
		}
		log.WithError(err).Warn("poll failed")
		return
	}

	previous, _ := m.tracker.Previous(meter.ID)

	snapshot := models.FromStatusPayload(meter.ID, payload, nil)
	if snapshot.MeterName == "" {
		snapshot.MeterName = meter.Name
	}
	m.tracker.Update(snapshot)

	anomalies := processor.DetectAnomalies(snapshot, previous)

	recordID, err := m.store.AppendSnapshot(snapshot, anomalies)
	if err != nil {
		log.WithError(err).Error("failed to store snapshot")
	}

	if m.channels != nil {
		if !m.channels.SendArchive(m.ctx, models.NewArchiveRecord(snapshot)) && m.ctx.Err() == nil {
			log.Warn("archive channel full, record dropped")
		}
	}

	fields := logger.Fields{
		"online":        snapshot.IsOnline(),
		"poll_duration": time.Since(start),
		"record_id":     recordID,
	}
	if v, ok := snapshot.CurrentReading(); ok {
		fields["current_reading"] = v
	}
	if v, ok := snapshot.BalanceUnit(); ok {
		fields["balance_unit"] = v
	}
	if snapshot.ReadingDelta != nil {
		fields["reading_delta"] = *snapshot.ReadingDelta
	}
	if snapshot.BalanceDelta != nil {
		fields["balance_delta"] = *snapshot.BalanceDelta
	}
	if len(anomalies) > 0 {
		tags := make([]string, 0, len(anomalies))
		for tag := range anomalies {
			tags = append(tags, tag)
		}
		fields["anomalies"] = tags
		log.WithFields(fields).Warn("meter polled with anomalies")
		return
	}
	log.WithFields(fields).Info("meter polled")
}
