package chatstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

func appendN(t *testing.T, s SessionStore, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Append(context.Background(), sessionID, chat.NewMessage(chat.RoleUser, "Alice", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}
}

func TestInMemorySessionStore_HistoryOrderAndLimit(t *testing.T) {
	s := NewInMemorySessionStore()
	ctx := context.Background()
	appendN(t, s, "S1", 7)

	for _, limit := range []int{1, 3, 7, 50} {
		got, err := s.History(ctx, "S1", limit)
		require.NoError(t, err)
		want := limit
		if want > 7 {
			want = 7
		}
		require.Len(t, got, want)
		for i, m := range got {
			require.Equal(t, fmt.Sprintf("m%d", 7-want+i), m.Text)
		}
	}

	all, err := s.History(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, all, 7)
	for i, m := range all {
		require.Equal(t, uint64(i+1), m.Seq)
	}
}

func TestInMemorySessionStore_UnseenSessionReadHasNoSideEffect(t *testing.T) {
	s := NewInMemorySessionStore()
	got, err := s.History(context.Background(), "nope", 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Equal(t, 0, s.SessionCount())

	_, ok, err := s.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemorySessionStore_AppendIfEmpty(t *testing.T) {
	s := NewInMemorySessionStore()
	ctx := context.Background()

	stored, ok, err := s.AppendIfEmpty(ctx, "S1", chat.NewMessage(chat.RoleAssistant, "bot", "welcome"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), stored.Seq)

	_, ok, err = s.AppendIfEmpty(ctx, "S1", chat.NewMessage(chat.RoleAssistant, "bot", "welcome again"))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.History(ctx, "S1", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "welcome", got[0].Text)
}

func TestInMemorySessionStore_ReturnedHistoryIsACopy(t *testing.T) {
	s := NewInMemorySessionStore()
	ctx := context.Background()
	appendN(t, s, "S1", 2)

	got, err := s.History(ctx, "S1", 10)
	require.NoError(t, err)
	got[0].Text = "mutated"

	again, err := s.History(ctx, "S1", 10)
	require.NoError(t, err)
	require.Equal(t, "m0", again[0].Text)
}

func TestInMemorySessionStore_ConcurrentAppendsKeepEveryMessage(t *testing.T) {
	s := NewInMemorySessionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = s.Append(ctx, "S1", chat.NewMessage(chat.RoleUser, "u", "x"))
				_, _ = s.History(ctx, "S1", 10)
			}
		}()
	}
	wg.Wait()

	all, err := s.History(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, all, 400)
	for i, m := range all {
		require.Equal(t, uint64(i+1), m.Seq)
	}
}

func TestInMemorySessionStore_ListSessions(t *testing.T) {
	s := NewInMemorySessionStore()
	appendN(t, s, "a", 1)
	appendN(t, s, "b", 3)

	records, err := s.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 2, s.SessionCount())

	rec, ok, err := s.GetSession(context.Background(), "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, rec.MessageCount)
	require.Equal(t, uint64(3), rec.LastSeq)
}
