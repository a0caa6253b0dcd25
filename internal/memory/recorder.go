package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/policy"
)

// Recorder writes conversation turns to a Store. It satisfies conversation.TurnLog.
type Recorder struct {
	store     Store
	ownerID   string
	sessionID string
	redact    bool
}

func NewRecorder(store Store, ownerID string, redact bool) *Recorder {
	return &Recorder{
		store:     store,
		ownerID:   ownerID,
		sessionID: uuid.NewString(),
		redact:    redact,
	}
}

func (r *Recorder) SessionID() string { return r.sessionID }

func (r *Recorder) Record(ctx context.Context, turnID string, role conversation.Role, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	changed := false
	if r.redact {
		text, changed = policy.RedactPII(text)
	}
	return r.store.SaveTurn(ctx, TurnRecord{
		OwnerID:   r.ownerID,
		SessionID: r.sessionID,
		TurnID:    turnID,
		Role:      string(role),
		Content:   text,
		Redacted:  changed,
	})
}

// Resume loads the last limit records for owner as conversation messages, in
// order. Unknown roles are skipped.
func Resume(ctx context.Context, store Store, ownerID string, limit int) ([]conversation.Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := store.RecentTurns(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]conversation.Item, 0, len(records))
	for _, rec := range records {
		switch conversation.Role(rec.Role) {
		case conversation.RoleUser:
			items = append(items, conversation.UserMessage(rec.Content))
		case conversation.RoleAssistant:
			items = append(items, conversation.AssistantMessage(rec.Content))
		}
	}
	return items, nil
}
