// Package readstate owns the unread-to-read transition. Every trigger point
// (opening a thread, a live event landing in the open thread) funnels through
// the same mutation so the unread counters can never disagree about what
// "read" means.
package readstate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

// Marker performs the underlying recipient-scoped mark-read mutation.
type Marker interface {
	MarkRead(ctx context.Context, recipientID uuid.UUID, messageIDs []uuid.UUID) error
}

// Applier receives the locally confirmed transition (e.g. a thread store).
type Applier interface {
	ApplyRead(ids []uuid.UUID, at time.Time)
}

// Refresher recomputes the conversation index after a successful transition so
// unread badges catch up within one recompute cycle.
type Refresher interface {
	RefreshInbox(ctx context.Context)
}

type Reconciler struct {
	me        uuid.UUID
	marker    Marker
	refresher Refresher
	log       zerolog.Logger
}

func NewReconciler(me uuid.UUID, marker Marker, refresher Refresher, log zerolog.Logger) *Reconciler {
	return &Reconciler{me: me, marker: marker, refresher: refresher, log: log}
}

// MarkThreadRead marks every currently unread inbound message in the thread as
// read in one batch. Returns the ids that were submitted.
func (r *Reconciler) MarkThreadRead(ctx context.Context, messages []models.Message, applier Applier) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(messages))
	for i := range messages {
		if messages[i].UnreadFor(r.me) {
			ids = append(ids, messages[i].ID)
		}
	}
	r.mark(ctx, ids, applier)
	return ids
}

// MarkMessageRead marks one inbound message read, the path used when a
// real-time event lands in the currently open thread. Messages the member
// sent, or that are already read, are skipped.
func (r *Reconciler) MarkMessageRead(ctx context.Context, message models.Message, applier Applier) bool {
	if !message.UnreadFor(r.me) {
		return false
	}
	r.mark(ctx, []uuid.UUID{message.ID}, applier)
	return true
}

func (r *Reconciler) mark(ctx context.Context, ids []uuid.UUID, applier Applier) {
	if len(ids) == 0 {
		return
	}

	if err := r.marker.MarkRead(ctx, r.me, ids); err != nil {
		// The server stays authoritative: local state is not advanced, and the
		// next history load re-derives read state from server rows.
		r.log.Error().Err(err).Int("count", len(ids)).Msg("mark read failed")
		return
	}

	if applier != nil {
		applier.ApplyRead(ids, time.Now().UTC())
	}
	if r.refresher != nil {
		r.refresher.RefreshInbox(ctx)
	}
}
