package database

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sakani/sakani_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MessageStore {
	t.Helper()
	db, err := ConnectDB("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewMessageStore(db)
}

func text(from, to, body string) models.Message {
	return models.Message{SenderID: from, ReceiverID: to, Body: body, AttachmentKind: models.AttachmentNone}
}

func TestPersistAssignsIdentityAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Persist(ctx, text("u", "v", "hi"))
	require.NoError(t, err)
	b, err := s.Persist(ctx, text("v", "u", "hey"))
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.False(t, b.CreatedAt.Before(a.CreatedAt))
	assert.False(t, a.Read)
}

func TestHistoryIsOrderedAndScopedToPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Persist(ctx, text("u", "v", fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
		_, err = s.Persist(ctx, text("v", "u", fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
	}
	_, err := s.Persist(ctx, text("u", "w", "elsewhere"))
	require.NoError(t, err)

	got, err := s.History(ctx, "u", "v", "", Page{})
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt))
	}
	assert.Equal(t, "u0", got[0].Body)
	assert.Equal(t, "v4", got[9].Body)

	paged, err := s.History(ctx, "v", "u", "", Page{Limit: 3, Offset: 2})
	require.NoError(t, err)
	require.Len(t, paged, 3)
	assert.Equal(t, got[2].ID, paged[0].ID)
}

func TestConcurrentPersistKeepsOrderingKeyMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "u", "v"
			if i%2 == 1 {
				from, to = to, from
			}
			_, err := s.Persist(ctx, text(from, to, fmt.Sprint(i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.History(ctx, "u", "v", "", Page{})
	require.NoError(t, err)
	require.Len(t, got, 20)
	seen := map[string]bool{}
	for i, m := range got {
		assert.False(t, seen[m.ID], "duplicate id")
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(got[i-1].CreatedAt))
		}
	}
}

func TestMarkReadIsDirectionalAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Persist(ctx, text("u", "v", "ping"))
		require.NoError(t, err)
	}
	_, err := s.Persist(ctx, text("v", "u", "pong"))
	require.NoError(t, err)

	n, err := s.MarkRead(ctx, "v", "u")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.MarkRead(ctx, "v", "u")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	unread, err := s.CountUnread(ctx, "v", "u")
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread, "reader's own message stays unread")

	total, err := s.CountUnreadFor(ctx, "u")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestHideConversationIsPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Persist(ctx, text("u", "v", "one"))
	require.NoError(t, err)
	_, err = s.Persist(ctx, text("v", "u", "two"))
	require.NoError(t, err)

	n, err := s.HideConversation(ctx, "u", "v")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.HideConversation(ctx, "u", "v")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	mine, err := s.History(ctx, "u", "v", "u", Page{})
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := s.History(ctx, "v", "u", "v", Page{})
	require.NoError(t, err)
	assert.Len(t, theirs, 2)

	count, err := s.CountConversation(ctx, "u", "v")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	hidden, err := s.HiddenFor(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, hidden)

	later, err := s.Persist(ctx, text("v", "u", "three"))
	require.NoError(t, err)
	mine, err = s.History(ctx, "u", "v", "u", Page{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, later.ID, mine[0].ID)
}
