package synccore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gocloud.dev/pubsub"
)

// LockAction is the transition carried by a LockEvent.
type LockAction string

const (
	LockAcquired LockAction = "acquired"
	LockReleased LockAction = "released"

	// LockExpired means the holder lost the lock without releasing it, e.g.
	// its heartbeats stopped arriving. Surfaced separately from a release so
	// callers can warn that unsynced edits may now conflict.
	LockExpired LockAction = "expired"
)

// LockEvent is broadcast on every lock transition, both from local actions
// and from other clients through the push feed.
type LockEvent struct {
	SectionID  string     `json:"section_id"`
	DocumentID string     `json:"document_id,omitempty"`
	Action     LockAction `json:"action"`
	OwnerID    string     `json:"user_id"`
	Timestamp  time.Time  `json:"timestamp"`
}

// lockFeed bridges the manager to a pubsub topic scoped to one document (or
// deployment). Delivery is best effort by contract: consumers must fall back
// to Status or heartbeat results for correctness-critical decisions.
type lockFeed struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *slog.Logger
}

const originKey = "origin"

func (f *lockFeed) publish(ctx context.Context, clientID string, ev LockEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		f.log.Error("marshalling lock event", "err", err)
		return
	}
	msg := &pubsub.Message{
		Body:     body,
		Metadata: map[string]string{originKey: clientID},
	}
	if err := f.topic.Send(ctx, msg); err != nil {
		//best effort only, subscribers have authoritative fallbacks
		f.log.Warn("lock event publish failed", "section", ev.SectionID, "err", err)
	}
}

// receive forwards remote events to handler until ctx is cancelled. Events
// originating from clientID itself are skipped, local emission already
// covered them.
func (f *lockFeed) receive(ctx context.Context, clientID string, handler func(LockEvent)) {
	for {
		msg, err := f.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.log.Warn("lock feed receive failed", "err", err)
			}
			return
		}
		if msg.Metadata[originKey] == clientID {
			msg.Ack()
			continue
		}
		var ev LockEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			f.log.Warn("dropping malformed lock event", "err", err)
			msg.Ack()
			continue
		}
		handler(ev)
		msg.Ack()
	}
}
