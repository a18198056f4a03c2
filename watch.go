package synccore

import (
	"context"
	"time"
)

//go:generate mockgen -source=watch.go --destination=mock_editrole_test.go --package synccore

// EditRole receives the caller's view of one section: Editing while this
// owner holds the lock, Watching otherwise.
type EditRole interface {
	Editing()
	Watching()
}

// watchPollInterval backs up the push feed while waiting for a section to
// free up; the feed is best effort, so waiting on events alone could hang.
const watchPollInterval = 500 * time.Millisecond

// WatchSection strives to hold a section for ownerID and flips role between
// Editing and Watching as the lock is gained and lost. After a loss, whether
// an expiry or a release, it tries to reacquire. Blocks until ctx is
// cancelled.
func WatchSection(ctx context.Context, m *LockManager, sectionID, documentID, ownerID string, role EditRole) {
	role.Watching()
	for ctx.Err() == nil {
		grant, err := m.Acquire(ctx, sectionID, documentID, ownerID)
		if err != nil || !grant.Granted {
			waitForChance(ctx, m, sectionID)
			continue
		}

		role.Editing()
		lost := make(chan struct{}, 1)
		unsub := m.OnLockChange(func(ev LockEvent) {
			if ev.SectionID == sectionID && ev.OwnerID == ownerID && ev.Action != LockAcquired {
				select {
				case lost <- struct{}{}:
				default:
				}
			}
		})
		select {
		case <-ctx.Done():
		case <-lost:
		}
		unsub()
		role.Watching()
	}
}

// waitForChance blocks until the section looks acquirable again: a released
// or expired event arrives, the fallback poll sees it unlocked, or ctx ends.
func waitForChance(ctx context.Context, m *LockManager, sectionID string) {
	freed := make(chan struct{}, 1)
	unsub := m.OnLockChange(func(ev LockEvent) {
		if ev.SectionID == sectionID && ev.Action != LockAcquired {
			select {
			case freed <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-freed:
			return
		case <-ticker.C:
			st, err := m.Status(ctx, sectionID)
			if err == nil && !st.Locked {
				return
			}
		}
	}
}
