package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
	"github.com/zorosafi2003/CenterPhoneApp/internal/localstore"
	"github.com/zorosafi2003/CenterPhoneApp/internal/session"
)

// BatchSize is the fixed number of records submitted per network call.
const BatchSize = 100

// Stats summarizes one export cycle.
type Stats struct {
	// Skipped is true when the trigger was dropped because a cycle was
	// already running.
	Skipped bool
	// Loaded is the number of queued records read at the start of the cycle.
	Loaded int
	// Batches is the number of batches submitted (including failed ones).
	Batches int
	// Confirmed is the number of records the server confirmed, now deleted.
	Confirmed int
	// Failed is the number of batches that errored and stay queued.
	Failed int
	// Remaining is the queue depth after the cycle.
	Remaining int
}

// Syncer reconciles locally queued attendance records against the server.
// Records are only deleted once the server confirms their local id; anything
// unconfirmed stays queued for the next cycle.
type Syncer struct {
	repo    *localstore.Repository
	client  *api.Client
	sess    *session.Manager
	running atomic.Bool
}

// New creates a syncer.
func New(repo *localstore.Repository, client *api.Client, sess *session.Manager) *Syncer {
	return &Syncer{repo: repo, client: client, sess: sess}
}

// QueuedCount returns the number of records still awaiting export.
func (s *Syncer) QueuedCount(ctx context.Context) (int, error) {
	return s.repo.CountAttendanceRecords(ctx)
}

// Export runs one export cycle. Concurrent triggers are dropped, not queued:
// only one cycle runs at a time. A batch failure is logged and the remaining
// batches still run; a 401 forces a logout and ends the cycle.
func (s *Syncer) Export(ctx context.Context) (Stats, error) {
	if !s.running.CompareAndSwap(false, true) {
		cyclesDropped.Inc()
		return Stats{Skipped: true}, nil
	}
	defer s.running.Store(false)

	var stats Stats

	records, err := s.repo.ListAttendanceRecords(ctx)
	if err != nil {
		return stats, fmt.Errorf("load queued records: %w", err)
	}
	stats.Loaded = len(records)
	if len(records) == 0 {
		queueDepth.Set(0)
		return stats, nil
	}

	token := s.sess.Token()
	if token == "" {
		return stats, errors.New("not authenticated")
	}

	var cycleErr error
	for start := 0; start < len(records); start += BatchSize {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}

		end := start + BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		stats.Batches++

		entries := make([]api.BatchEntry, 0, len(batch))
		for _, rec := range batch {
			entries = append(entries, api.BatchEntry{
				StudentID:   rec.StudentID,
				StudentCode: rec.Code,
				CenterID:    rec.CenterID,
				LocalID:     rec.ID,
				CreateDate:  rec.CreatedAt,
			})
		}

		confirmed, err := s.client.SubmitAttendanceBatch(ctx, token, entries)
		if err != nil {
			if s.sess.HandleAuthError(err) {
				// Token is dead; the rest of the cycle cannot succeed.
				cycleErr = err
				break
			}
			log.Printf("batch %d/%d failed, records stay queued: %v",
				stats.Batches, (len(records)+BatchSize-1)/BatchSize, err)
			stats.Failed++
			batchesFailed.Inc()
			continue
		}

		ids := make([]string, 0, len(batch))
		for _, rec := range batch {
			if confirmed[rec.ID] {
				ids = append(ids, rec.ID)
			}
		}
		// Delete before the next batch so a crash mid-cycle never re-queues
		// records the server already confirmed.
		if err := s.repo.DeleteAttendanceRecords(ctx, ids); err != nil {
			log.Printf("delete confirmed records failed: %v", err)
			stats.Failed++
			batchesFailed.Inc()
			continue
		}
		stats.Confirmed += len(ids)
		batchesSubmitted.Inc()
		recordsConfirmed.Add(float64(len(ids)))
	}

	remaining, err := s.repo.CountAttendanceRecords(ctx)
	if err != nil {
		log.Printf("refresh queued count failed: %v", err)
	} else {
		stats.Remaining = remaining
		queueDepth.Set(float64(remaining))
	}

	return stats, cycleErr
}
