package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/engine"
)

// LocalQuota hands out video ids from a counter. A positive limit caps the
// number of slots.
type LocalQuota struct {
	mu    sync.Mutex
	next  int64
	limit int
	used  int
}

func NewLocalQuota(firstID int64, limit int) *LocalQuota {
	if firstID <= 0 {
		firstID = 1
	}
	return &LocalQuota{next: firstID, limit: limit}
}

func (q *LocalQuota) ReserveVideoSlot(context.Context, string) (engine.Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && q.used >= q.limit {
		return engine.Reservation{
			Code:    "QUOTA_EXCEEDED",
			Message: fmt.Sprintf("all %d local video slots are used", q.limit),
		}, nil
	}
	q.used++
	id := q.next
	q.next++
	return engine.Reservation{OK: true, VideoID: id}, nil
}

// LogMetadata writes status changes to the log.
type LogMetadata struct {
	log logrus.FieldLogger
}

func NewLogMetadata(log logrus.FieldLogger) *LogMetadata {
	return &LogMetadata{log: log.WithField("service", "metadata")}
}

func (m *LogMetadata) SetStatus(_ context.Context, videoID int64, status engine.VideoStatus, meta *engine.Metadata) error {
	entry := m.log.WithFields(logrus.Fields{"video_id": videoID, "status": status})
	if meta != nil {
		entry = entry.WithFields(logrus.Fields{
			"duration_ms": meta.DurationMs,
			"fps":         meta.FPS,
			"size":        fmt.Sprintf("%dx%d", meta.Width, meta.Height),
			"format":      meta.Format,
			"bytes":       meta.SizeBytes,
		})
		if meta.Error != "" {
			entry.WithField("reason", meta.Error).Warn("video status")
			return nil
		}
	}
	entry.Info("video status")
	return nil
}
