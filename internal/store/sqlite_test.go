// ABOUTME: Tests for the SQLite store.
// ABOUTME: Covers conversation reuse, history ordering and limits, clearing, and fact upserts.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sable.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateConversation_ReusesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateConversation(ctx, "devnet", "dm:user1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := s.GetOrCreateConversation(ctx, "devnet", "dm:user1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := s.GetOrCreateConversation(ctx, "devnet", "group-9")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRecentHistory_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "devnet", "dm:user1")
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three", "four"} {
		_, err := s.AppendMessage(ctx, conv.ID, RoleUser, "user1", "User", content)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := s.RecentHistory(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Most recent three, oldest first.
	assert.Equal(t, "two", history[0].Content)
	assert.Equal(t, "three", history[1].Content)
	assert.Equal(t, "four", history[2].Content)
}

func TestClearConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "devnet", "dm:user1")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, RoleUser, "user1", "User", "hello")
	require.NoError(t, err)

	require.NoError(t, s.ClearConversation(ctx, conv.ID))

	history, err := s.RecentHistory(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateConversation(ctx, "devnet", "dm:a")
	require.NoError(t, err)
	b, err := s.GetOrCreateConversation(ctx, "devnet", "dm:b")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = s.AppendMessage(ctx, a.ID, RoleUser, "a", "A", "bump")
	require.NoError(t, err)

	convs, err := s.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, a.ID, convs[0].ID)
	assert.Equal(t, b.ID, convs[1].ID)
}

func TestSetFact_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetFact(ctx, "user1", "devnet", "likes", "go")
	require.NoError(t, err)
	_, err = s.SetFact(ctx, "user1", "devnet", "likes", "sqlite")
	require.NoError(t, err)
	_, err = s.SetFact(ctx, "user1", "devnet", "timezone", "UTC")
	require.NoError(t, err)

	facts, err := s.GetFacts(ctx, "user1", "devnet")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "likes", facts[0].Key)
	assert.Equal(t, "sqlite", facts[0].Value)
	assert.Equal(t, "timezone", facts[1].Key)

	other, err := s.GetFacts(ctx, "user2", "devnet")
	require.NoError(t, err)
	assert.Empty(t, other)
}
