package synccore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"
)

// AcquireResult is the store's answer to a conditional acquisition.
type AcquireResult struct {
	Success   bool
	LockID    string
	LockedBy  string // current holder when Success is false
	ExpiresAt time.Time
}

// SectionStatus is a read-only view of one section's lock.
type SectionStatus struct {
	Locked    bool
	LockedBy  string
	LockedAt  time.Time
	ExpiresAt time.Time
}

// LockStore is the contract the lock manager needs from the external store.
// The store, not the client, makes the exclusivity decision: TryAcquire must
// be a single atomic acquire-if-absent-or-expired, so no two calls for the
// same section can both succeed while their TTLs overlap.
type LockStore interface {
	TryAcquire(ctx context.Context, sectionID, documentID, ownerID string, ttl time.Duration) (AcquireResult, error)
	Release(ctx context.Context, lockID, ownerID string) (bool, error)
	Heartbeat(ctx context.Context, lockID, ownerID string, ttl time.Duration) (bool, error)
	ReleaseAll(ctx context.Context, ownerID string) error
	Status(ctx context.Context, sectionID string) (SectionStatus, error)
}

// lockDoc is the stored lock record, one per section. Fields are exported
// only for marshalling.
type lockDoc struct {
	ID         string    `docstore:"id"` //the sectionID
	DocumentID string    `docstore:"document_id"`
	LockID     string    `docstore:"lock_id"`
	Owner      string    `docstore:"owner"`
	AcquiredAt time.Time `docstore:"acquired_at"`
	ExpiresAt  time.Time `docstore:"expires_at"`

	//for optimistic concurrency
	DocstoreRevision interface{}
}

func (d *lockDoc) expired(now time.Time) bool {
	return !d.ExpiresAt.After(now)
}

// DocstoreStore implements LockStore on a docstore collection keyed by
// section id. The collection's revision field turns every write into a
// conditional one, which is what makes TryAcquire safe under contention:
// a racing writer loses with AlreadyExists or FailedPrecondition and is
// reported the winner instead.
type DocstoreStore struct {
	coll *docstore.Collection
	log  *slog.Logger
	now  func() time.Time
}

func NewDocstoreStore(coll *docstore.Collection, log *slog.Logger) *DocstoreStore {
	if log == nil {
		log = slog.Default()
	}
	return &DocstoreStore{
		coll: coll,
		log:  log.With("component", "lockstore"),
		now:  time.Now,
	}
}

func (s *DocstoreStore) TryAcquire(ctx context.Context, sectionID, documentID, ownerID string, ttl time.Duration) (AcquireResult, error) {
	now := s.now()

	doc := lockDoc{ID: sectionID}
	err := s.coll.Get(ctx, &doc)
	switch {
	case gcerrors.Code(err) == gcerrors.NotFound:
		fresh := lockDoc{
			ID:         sectionID,
			DocumentID: documentID,
			LockID:     uuid.NewString(),
			Owner:      ownerID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		if err := s.coll.Create(ctx, &fresh); err != nil {
			if lostRace(err) {
				return s.reportHolder(ctx, sectionID)
			}
			return AcquireResult{}, fmt.Errorf("creating lock for %q: %w", sectionID, err)
		}
		return AcquireResult{Success: true, LockID: fresh.LockID, ExpiresAt: fresh.ExpiresAt}, nil

	case err != nil:
		return AcquireResult{}, fmt.Errorf("reading lock for %q: %w", sectionID, err)
	}

	if !doc.expired(now) && doc.Owner != ownerID {
		//live lock held by someone else: expected contention, not an error
		return AcquireResult{LockedBy: doc.Owner, ExpiresAt: doc.ExpiresAt}, nil
	}

	// expired, or our own lock being resumed; steal conditionally via the
	// revision carried over from Get
	if doc.Owner != ownerID || doc.expired(now) {
		doc.LockID = uuid.NewString()
		doc.AcquiredAt = now
	}
	doc.DocumentID = documentID
	doc.Owner = ownerID
	doc.ExpiresAt = now.Add(ttl)
	if err := s.coll.Put(ctx, &doc); err != nil {
		if lostRace(err) {
			return s.reportHolder(ctx, sectionID)
		}
		return AcquireResult{}, fmt.Errorf("claiming lock for %q: %w", sectionID, err)
	}
	return AcquireResult{Success: true, LockID: doc.LockID, ExpiresAt: doc.ExpiresAt}, nil
}

// reportHolder re-reads a section after a lost write race so the caller
// learns who won.
func (s *DocstoreStore) reportHolder(ctx context.Context, sectionID string) (AcquireResult, error) {
	doc := lockDoc{ID: sectionID}
	if err := s.coll.Get(ctx, &doc); err != nil {
		// winner vanished already; caller may simply retry
		return AcquireResult{}, nil
	}
	return AcquireResult{LockedBy: doc.Owner, ExpiresAt: doc.ExpiresAt}, nil
}

func (s *DocstoreStore) Release(ctx context.Context, lockID, ownerID string) (bool, error) {
	doc, err := s.byLockID(ctx, lockID)
	if err != nil {
		return false, err
	}
	if doc == nil || doc.Owner != ownerID {
		return false, nil
	}
	if err := s.coll.Delete(ctx, doc); err != nil {
		if lostRace(err) || gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("releasing lock %q: %w", lockID, err)
	}
	return true, nil
}

func (s *DocstoreStore) Heartbeat(ctx context.Context, lockID, ownerID string, ttl time.Duration) (bool, error) {
	now := s.now()
	doc, err := s.byLockID(ctx, lockID)
	if err != nil {
		return false, err
	}
	if doc == nil || doc.Owner != ownerID || doc.expired(now) {
		return false, nil
	}
	doc.ExpiresAt = now.Add(ttl)
	if err := s.coll.Put(ctx, doc); err != nil {
		if lostRace(err) || gcerrors.Code(err) == gcerrors.NotFound {
			//lost the lock between the read and the write
			return false, nil
		}
		return false, fmt.Errorf("extending lock %q: %w", lockID, err)
	}
	return true, nil
}

func (s *DocstoreStore) ReleaseAll(ctx context.Context, ownerID string) error {
	iter := s.coll.Query().Where("owner", "=", ownerID).Get(ctx)
	defer iter.Stop()

	for {
		var doc lockDoc
		err := iter.Next(ctx, &doc)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing locks for %q: %w", ownerID, err)
		}
		if err := s.coll.Delete(ctx, &doc); err != nil && !lostRace(err) &&
			gcerrors.Code(err) != gcerrors.NotFound {
			s.log.Warn("bulk release left a lock behind",
				"section", doc.ID, "owner", ownerID, "err", err)
		}
	}
}

func (s *DocstoreStore) Status(ctx context.Context, sectionID string) (SectionStatus, error) {
	doc := lockDoc{ID: sectionID}
	err := s.coll.Get(ctx, &doc)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return SectionStatus{}, nil
	}
	if err != nil {
		return SectionStatus{}, fmt.Errorf("reading lock for %q: %w", sectionID, err)
	}
	// an expired record is unlocked even before it is physically purged
	if doc.expired(s.now()) {
		return SectionStatus{}, nil
	}
	return SectionStatus{
		Locked:    true,
		LockedBy:  doc.Owner,
		LockedAt:  doc.AcquiredAt,
		ExpiresAt: doc.ExpiresAt,
	}, nil
}

func (s *DocstoreStore) byLockID(ctx context.Context, lockID string) (*lockDoc, error) {
	iter := s.coll.Query().Where("lock_id", "=", lockID).Get(ctx)
	defer iter.Stop()

	var doc lockDoc
	err := iter.Next(ctx, &doc)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up lock %q: %w", lockID, err)
	}
	return &doc, nil
}

// lostRace reports whether a conditional write failed because another client
// changed the record first.
func lostRace(err error) bool {
	switch gcerrors.Code(err) {
	case gcerrors.AlreadyExists, gcerrors.FailedPrecondition:
		return true
	}
	return false
}
