package chatstore

import (
	"context"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// SessionRecord captures session-level metadata used by the status and debug
// endpoints.
type SessionRecord struct {
	SessionID      string `json:"session_id"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms"`
	MessageCount   int    `json:"message_count"`
	LastSeq        uint64 `json:"last_seq"`
}

// SessionStore holds per-session message histories.
//
// Histories are append-only: a stored message keeps its position and content
// for the lifetime of the store. Each appended message is stamped with a
// per-session monotonic sequence number starting at 1.
type SessionStore interface {
	// Append adds msg at the end of the session history, creating the session
	// when needed, and returns the stored copy.
	Append(ctx context.Context, sessionID string, msg chat.Message) (chat.Message, error)
	// AppendIfEmpty appends msg only when the session has no history yet.
	AppendIfEmpty(ctx context.Context, sessionID string, msg chat.Message) (chat.Message, bool, error)
	// History returns the newest limit messages in insertion order. A limit
	// <= 0 returns the full history. Reading never creates a session.
	History(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
	GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	SessionCount() int
	Close() error
}
