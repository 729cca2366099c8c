// Package channel carries archive records from the polling workers to the
// archive writer over a bounded buffer.
package channel

import (
	"context"
	"sync"
	"time"

	"meterflow/logger"
	"meterflow/models"
)

type ChannelStats struct {
	ArchiveSent    int64
	ArchiveDropped int64
}

type Channels struct {
	Archive chan models.ArchiveRecord

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(archiveBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Archive: make(chan models.ArchiveRecord, archiveBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"archive_buffer_size": archiveBufferSize,
	}).Info("archive channel initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Archive)
	c.log.WithComponent("channels").Info("archive channel closed")
}

// SendArchive enqueues a record without blocking the polling loop. When the
// buffer is full the record is dropped and counted; the audit trail in
// SQLite remains the authoritative copy.
func (c *Channels) SendArchive(ctx context.Context, rec models.ArchiveRecord) bool {
	select {
	case c.Archive <- rec:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		return false
	}
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.ArchiveSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.ArchiveDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel throughput every 30s until ctx ends.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				c.log.LogMetric("channels", "archive_sent", stats.ArchiveSent, "counter", logger.Fields{
					"archive_dropped": stats.ArchiveDropped,
					"archive_queued":  len(c.Archive),
				})
			}
		}
	}()
}
