package memory

import (
	"context"
	"time"
)

// TurnRecord is one persisted user utterance or spoken assistant reply.
type TurnRecord struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	TurnID    string    `json:"turn_id" db:"turn_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Redacted  bool      `json:"redacted" db:"redacted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Store is the turn log.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit records for owner, oldest first.
	RecentTurns(ctx context.Context, ownerID string, limit int) ([]TurnRecord, error)
	Close() error
}
