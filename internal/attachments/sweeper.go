package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/gigboard/marketplace/internal/metrics"
)

// ReferenceSource reports every attachment URL still referenced by a message
type ReferenceSource interface {
	ReferencedAttachmentURLs() (map[string]struct{}, error)
}

// Sweeper removes stored files that were uploaded but never attached to a
// message. Files younger than the grace period are left alone, a client may
// still be about to send them.
type Sweeper struct {
	storage Storage
	refs    ReferenceSource
	grace   time.Duration
	now     func() time.Time
}

func NewSweeper(storage Storage, refs ReferenceSource, grace time.Duration) *Sweeper {
	return &Sweeper{storage: storage, refs: refs, grace: grace, now: time.Now}
}

// SweepOnce runs a single pass and returns how many files were deleted
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	files, err := s.storage.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	referenced, err := s.refs.ReferencedAttachmentURLs()
	if err != nil {
		return 0, fmt.Errorf("failed to load referenced attachments: %w", err)
	}

	cutoff := s.now().Add(-s.grace)
	removed := 0
	for _, f := range files {
		if _, ok := referenced[f.URL]; ok {
			continue
		}
		if f.ModTime.After(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, f.Key); err != nil {
			log.Warn("Failed to delete orphaned upload %s: %v", f.Key, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		metrics.OrphansSwept.Add(float64(removed))
		log.Info("Swept %d orphaned upload(s)", removed)
	}
	return removed, nil
}

// Start schedules SweepOnce on a cron expression until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context, cronExpr string) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid sweep cron expression: %q", cronExpr)
	}
	go s.run(ctx, cronExpr)
	log.Info("Orphan sweeper scheduled with %q", cronExpr)
	return nil
}

func (s *Sweeper) run(ctx context.Context, cronExpr string) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, s.now(), false)
		if err != nil {
			log.Error("Failed to compute next sweep: %v", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug("Orphan sweeper stopping")
			return
		case <-timer.C:
		}

		if _, err := s.SweepOnce(ctx); err != nil {
			log.Error("Orphan sweep failed: %v", err)
		}
	}
}
