package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// InMemorySessionStore is a process-local SessionStore guarded by a single
// mutex. Contention is expected to be low: one append per user message and
// one per assistant reply.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*inMemSession
}

type inMemSession struct {
	record   SessionRecord
	messages []chat.Message
}

var _ SessionStore = &InMemorySessionStore{}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: map[string]*inMemSession{},
	}
}

func (s *InMemorySessionStore) Close() error { return nil }

func (s *InMemorySessionStore) Append(_ context.Context, sessionID string, msg chat.Message) (chat.Message, error) {
	if s == nil {
		return chat.Message{}, errors.New("in-memory session store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(sessionID, msg), nil
}

func (s *InMemorySessionStore) AppendIfEmpty(_ context.Context, sessionID string, msg chat.Message) (chat.Message, bool, error) {
	if s == nil {
		return chat.Message{}, false, errors.New("in-memory session store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.sessions[sessionID]; sess != nil && len(sess.messages) > 0 {
		return chat.Message{}, false, nil
	}
	return s.appendLocked(sessionID, msg), true, nil
}

func (s *InMemorySessionStore) appendLocked(sessionID string, msg chat.Message) chat.Message {
	now := time.Now().UnixMilli()
	sess := s.sessions[sessionID]
	if sess == nil {
		sess = &inMemSession{record: SessionRecord{SessionID: sessionID, CreatedAtMs: now}}
		s.sessions[sessionID] = sess
	}
	sess.record.LastSeq++
	stored := msg.Clone()
	stored.Seq = sess.record.LastSeq
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	sess.messages = append(sess.messages, stored)
	sess.record.LastActivityMs = now
	sess.record.MessageCount = len(sess.messages)
	return stored.Clone()
}

func (s *InMemorySessionStore) History(_ context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory session store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[sessionID]
	if sess == nil {
		return []chat.Message{}, nil
	}
	start := 0
	if limit > 0 && len(sess.messages) > limit {
		start = len(sess.messages) - limit
	}
	out := make([]chat.Message, 0, len(sess.messages)-start)
	for _, m := range sess.messages[start:] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *InMemorySessionStore) GetSession(_ context.Context, sessionID string) (SessionRecord, bool, error) {
	if s == nil {
		return SessionRecord{}, false, errors.New("in-memory session store: nil store")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionRecord{}, false, errors.New("in-memory session store: sessionID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return SessionRecord{}, false, nil
	}
	return sess.record, true, nil
}

func (s *InMemorySessionStore) ListSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory session store: nil store")
	}
	if limit <= 0 {
		limit = 200
	}

	s.mu.Lock()
	records := make([]SessionRecord, 0, len(s.sessions))
	for _, sess := range s.sessions {
		records = append(records, sess.record)
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *InMemorySessionStore) SessionCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
