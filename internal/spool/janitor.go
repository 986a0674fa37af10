package spool

import (
	"context"
	"sync"
	"time"

	"github.com/private-scribe/scribe/internal/logging"
)

// StartJanitor starts a background goroutine that periodically removes
// spooled recordings older than retention and keeps at most maxFiles of
// them (0 disables either limit). Caller must call wg.Add(1) first; the
// goroutine calls wg.Done() on exit. keep reports ids that must survive,
// such as recordings still uploading. onRemoved, when set, receives the ids
// removed by each pass.
func (d *Dir) StartJanitor(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration, maxFiles int, keep func(id string) bool, onRemoved func(ids []string)) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := d.Sweep(time.Now(), retention, maxFiles, keep); len(removed) > 0 && onRemoved != nil {
					onRemoved(removed)
				}
			}
		}
	}()
}

// Sweep runs one janitor pass and returns the ids it removed.
func (d *Dir) Sweep(now time.Time, retention time.Duration, maxFiles int, keep func(id string) bool) []string {
	if d == nil {
		return nil
	}
	list, err := d.List()
	if err != nil {
		logging.Debugw("spool: sweep list failed", "dir", d.Path, "err", err)
		return nil
	}
	var removed []string
	// remove skips pinned ids; callers compare len(removed) to see whether
	// it acted.
	remove := func(sc *Sidecar) {
		if keep != nil && keep(sc.ArtifactID) {
			return
		}
		if err := d.Remove(sc.ArtifactID); err != nil {
			logging.Warnw("spool: sweep remove failed", "artifact_id", sc.ArtifactID, "err", err)
			return
		}
		removed = append(removed, sc.ArtifactID)
	}

	var live []*Sidecar
	for _, sc := range list {
		if retention > 0 && sc.CreatedAt.Before(now.Add(-retention)) {
			before := len(removed)
			remove(sc)
			if len(removed) > before {
				continue
			}
		}
		live = append(live, sc)
	}
	if excess := len(live) - maxFiles; maxFiles > 0 && excess > 0 {
		for _, sc := range live {
			if excess == 0 {
				break
			}
			before := len(removed)
			remove(sc)
			if len(removed) > before {
				excess--
			}
		}
	}
	if len(removed) > 0 {
		logging.Infow("spool: swept recordings", "removed", len(removed))
	}
	return removed
}
