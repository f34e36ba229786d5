package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/pulsesync/internal/domain"
)

func openedCache(t *testing.T, key domain.ConversationKey, page []domain.Message, next *string) *MessageCache {
	t.Helper()
	c := NewMessageCache()
	require.True(t, c.BeginOpen(key))
	require.True(t, c.CompleteOpen(key, page, next))
	return c
}

func TestCacheOpenOnlyOnce(t *testing.T) {
	c := NewMessageCache()

	assert.True(t, c.BeginOpen(bobKey))
	assert.True(t, c.Loading(bobKey))
	assert.False(t, c.BeginOpen(bobKey))

	require.True(t, c.CompleteOpen(bobKey, []domain.Message{inbound("m1", "a", 1)}, nil))
	assert.False(t, c.Loading(bobKey))
	assert.False(t, c.BeginOpen(bobKey))
	assert.False(t, c.CompleteOpen(bobKey, nil, nil))
}

func TestCacheLiveMessagesDuringOpenFollowPage(t *testing.T) {
	c := NewMessageCache()
	require.True(t, c.BeginOpen(bobKey))

	assert.True(t, c.Append(bobKey, inbound("m3", "live", 3)))
	assert.True(t, c.Append(bobKey, inbound("m4", "live", 4)))

	page := []domain.Message{inbound("m1", "a", 1), inbound("m2", "b", 2), inbound("m3", "live", 3)}
	require.True(t, c.CompleteOpen(bobKey, page, nil))

	msgs, ok := c.Messages(bobKey)
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(msgs))
}

func TestCacheFailOpenAllowsRetry(t *testing.T) {
	c := NewMessageCache()
	require.True(t, c.BeginOpen(bobKey))

	c.FailOpen(bobKey)

	_, ok := c.Messages(bobKey)
	assert.False(t, ok)
	assert.True(t, c.BeginOpen(bobKey))
}

func TestCacheAppendSkipsUnopenedAndDuplicates(t *testing.T) {
	c := openedCache(t, bobKey, []domain.Message{inbound("m1", "a", 1)}, nil)

	assert.False(t, c.Append(teamKey, groupMessage("g1", "x", bob, 1)))
	assert.False(t, c.Append(bobKey, inbound("m1", "a", 1)))
	assert.True(t, c.Append(bobKey, inbound("m2", "b", 2)))

	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "m2", c.LastID(bobKey))
	assert.Empty(t, c.LastID(teamKey))
}

func TestCacheReconcileAckPreservesPosition(t *testing.T) {
	c := openedCache(t, bobKey, []domain.Message{inbound("A", "a", 1)}, nil)
	c.Append(bobKey, outbound("temp-100", "b", 2))
	c.Append(bobKey, inbound("C", "c", 3))

	require.True(t, c.ReconcileAck(bobKey, "temp-100", "B", at(5)))

	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, []string{"A", "B", "C"}, ids(msgs))
	assert.Equal(t, at(5), msgs[1].Timestamp.Time)
}

func TestCacheReconcileAckSearchesAllEntries(t *testing.T) {
	c := openedCache(t, bobKey, nil, nil)
	c.Append(bobKey, outbound("temp-1", "hi", 1))

	require.True(t, c.ReconcileAck(domain.ConversationKey{}, "temp-1", "m123", at(2)))
	assert.False(t, c.ReconcileAck(bobKey, "temp-1", "m123", at(2)))

	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, []string{"m123"}, ids(msgs))
}

func TestCacheReconcileAckDropsOptimisticWhenServerCopyPresent(t *testing.T) {
	c := openedCache(t, bobKey, nil, nil)
	c.Append(bobKey, outbound("temp-1", "hi", 1))
	c.Append(bobKey, outbound("m123", "hi", 1))

	require.True(t, c.ReconcileAck(bobKey, "temp-1", "m123", at(2)))

	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, []string{"m123"}, ids(msgs))
}

func TestCacheLoadOlderIsPurePrepend(t *testing.T) {
	var tail []domain.Message
	for i := 5; i <= 10; i++ {
		tail = append(tail, inbound(msgID(i), "x", i))
	}
	c := openedCache(t, bobKey, tail, strPtr("cur-5"))

	cursor, ok := c.BeginLoadOlder(bobKey)
	require.True(t, ok)
	assert.Equal(t, "cur-5", cursor)
	assert.True(t, c.Loading(bobKey))

	_, again := c.BeginLoadOlder(bobKey)
	assert.False(t, again, "a second load must wait for the first")

	var older []domain.Message
	for i := 1; i <= 5; i++ {
		older = append(older, inbound(msgID(i), "x", i))
	}
	require.True(t, c.CompleteLoadOlder(bobKey, older, nil))

	msgs, _ := c.Messages(bobKey)
	want := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		want = append(want, msgID(i))
	}
	assert.Equal(t, want, ids(msgs))
	assert.False(t, c.HasMore(bobKey))

	_, ok = c.BeginLoadOlder(bobKey)
	assert.False(t, ok)
}

func TestCacheFailLoadOlderClearsFlag(t *testing.T) {
	c := openedCache(t, bobKey, []domain.Message{inbound("m5", "x", 5)}, strPtr("cur"))

	_, ok := c.BeginLoadOlder(bobKey)
	require.True(t, ok)
	c.FailLoadOlder(bobKey)

	assert.False(t, c.Loading(bobKey))
	cursor, ok := c.BeginLoadOlder(bobKey)
	assert.True(t, ok)
	assert.Equal(t, "cur", cursor)
}

func TestCacheDeletionRedactsForUnprivileged(t *testing.T) {
	msg := inbound("m5", "secret", 1)
	msg.Content.Image = strPtr("https://cdn.example.com/a.png")

	t.Run("user", func(t *testing.T) {
		c := openedCache(t, bobKey, []domain.Message{msg}, nil)

		key, ok := c.ApplyDeletion(domain.ConversationKey{}, "m5", false)
		require.True(t, ok)
		assert.Equal(t, bobKey, key)

		msgs, _ := c.Messages(bobKey)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].IsDeleted)
		require.NotNil(t, msgs[0].Content.Text)
		assert.Equal(t, domain.DeletedPlaceholder, *msgs[0].Content.Text)
		assert.Nil(t, msgs[0].Content.Image)
		assert.Nil(t, msgs[0].Content.File)
		assert.Equal(t, "m5", msgs[0].ID)
		assert.Equal(t, at(1), msgs[0].Timestamp.Time)
	})

	t.Run("admin", func(t *testing.T) {
		c := openedCache(t, bobKey, []domain.Message{msg}, nil)

		_, ok := c.ApplyDeletion(bobKey, "m5", true)
		require.True(t, ok)

		msgs, _ := c.Messages(bobKey)
		assert.True(t, msgs[0].IsDeleted)
		assert.Equal(t, "secret", *msgs[0].Content.Text)
		assert.NotNil(t, msgs[0].Content.Image)
	})

	t.Run("unknown", func(t *testing.T) {
		c := openedCache(t, bobKey, []domain.Message{msg}, nil)
		_, ok := c.ApplyDeletion(bobKey, "nope", false)
		assert.False(t, ok)
	})
}

func TestCacheMarkReadByOnlyTouchesOwnMessages(t *testing.T) {
	c := openedCache(t, bobKey, []domain.Message{
		outbound("m1", "mine", 1),
		inbound("m2", "theirs", 2),
		outbound("m3", "mine", 3),
	}, nil)

	assert.Equal(t, 2, c.MarkReadBy(bobKey, alice))
	assert.Equal(t, 0, c.MarkReadBy(bobKey, alice))

	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, domain.StatusRead, msgs[0].Status)
	assert.Equal(t, domain.StatusSent, msgs[1].Status)
	assert.Equal(t, domain.StatusRead, msgs[2].Status)
}

func TestCacheSetStatusNeverDowngrades(t *testing.T) {
	c := openedCache(t, bobKey, []domain.Message{outbound("m1", "x", 1)}, nil)

	assert.True(t, c.SetStatus("m1", domain.StatusDelivered))
	assert.True(t, c.SetStatus("m1", domain.StatusRead))
	assert.False(t, c.SetStatus("m1", domain.StatusDelivered))
	assert.False(t, c.SetStatus("missing", domain.StatusRead))

	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, domain.StatusRead, msgs[0].Status)
}

func TestCacheMarkFailedThenAckRecovers(t *testing.T) {
	c := openedCache(t, bobKey, nil, nil)
	c.Append(bobKey, outbound("temp-1", "x", 1))

	require.True(t, c.MarkFailed(bobKey, "temp-1"))
	msgs, _ := c.Messages(bobKey)
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)

	require.True(t, c.ReconcileAck(bobKey, "temp-1", "m1", at(2)))
	msgs, _ = c.Messages(bobKey)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
}

func msgID(i int) string {
	return fmt.Sprintf("M%02d", i)
}
