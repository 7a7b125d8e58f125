package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ActivityPerPage is the size of one page of a member's activity feed.
const ActivityPerPage = 7

// ActivityInput describes an activity to record.
type ActivityInput struct {
	Type          models.ActivityType
	Members       []string
	Broadcast     bool
	Memo          string
	Amount        decimal.Decimal
	AffectedLoans []uuid.UUID
}

// RecordActivity stores one immutable activity row and publishes it. A
// publish failure is logged and does not fail the call.
func (l *Ledger) RecordActivity(ctx context.Context, in ActivityInput) (*models.Activity, error) {
	if !in.Type.Valid() {
		return nil, validationErrorf("unknown activity type %q", in.Type)
	}
	memo := strings.TrimSpace(in.Memo)
	if memo == "" {
		return nil, validationErrorf("activity memo is required")
	}

	activity := &models.Activity{
		ID:            uuid.New(),
		Members:       normalizeMembers(in.Members),
		Broadcast:     in.Broadcast,
		Type:          in.Type,
		Memo:          memo,
		Amount:        in.Amount,
		AffectedLoans: append([]uuid.UUID{}, in.AffectedLoans...),
		CreatedAt:     l.now().UTC(),
	}
	if err := l.storage.CreateActivity(ctx, activity); err != nil {
		return nil, persistenceError("store activity", err)
	}

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, activity); err != nil {
			l.log.WithFields(logrus.Fields{
				"activity_id": activity.ID,
				"type":        activity.Type,
			}).WithError(err).Warn("Failed to publish activity")
		}
	}
	return activity, nil
}

// ListActivity returns page (0-based) of the activity visible to memberID, newest first.
func (l *Ledger) ListActivity(ctx context.Context, memberID string, page int) ([]*models.Activity, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, validationErrorf("member is required")
	}
	if page < 0 {
		return nil, validationErrorf("page cannot be negative")
	}
	activity, err := l.storage.ListActivity(ctx, memberID, page*ActivityPerPage, ActivityPerPage)
	if err != nil {
		return nil, persistenceError("list activity", err)
	}
	return activity, nil
}
