package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/transport/ws"
)

func newTestLedger() (*UnreadLedger, *fakeSender) {
	sender := &fakeSender{}
	composer := NewComposer(sender, NewMessageCache(), NewDirectory())
	return NewUnreadLedger(16, composer), sender
}

func TestLedgerInboundIncrementsInactiveConversation(t *testing.T) {
	l, sender := newTestLedger()
	msg := inbound("m1", "hi", 1)

	read, err := l.OnInbound(bobKey, "bob", &msg)
	require.NoError(t, err)

	assert.False(t, read)
	assert.Equal(t, 1, l.Count(bobKey))
	assert.Empty(t, sender.Sent())

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].DisplayName)
	assert.Equal(t, "hi", entries[0].LastPreview)
	assert.Equal(t, at(1), entries[0].LastTimestamp)
}

func TestLedgerActiveVisibleReadsInstantly(t *testing.T) {
	l, sender := newTestLedger()
	l.SetActive(bobKey)
	msg := inbound("m1", "hi", 1)

	read, err := l.OnInbound(bobKey, "bob", &msg)
	require.NoError(t, err)

	assert.True(t, read)
	assert.Equal(t, 0, l.Count(bobKey))
	reads := sender.readsSent()
	require.Len(t, reads, 1)
	require.NotNil(t, reads[0].Partner)
	assert.Equal(t, int64(42), reads[0].Partner.ID)
	assert.Equal(t, domain.RoleUser, reads[0].Partner.Role)
}

func TestLedgerHiddenActiveStillCounts(t *testing.T) {
	l, sender := newTestLedger()
	l.SetActive(bobKey)
	require.NoError(t, l.SetVisible(false))
	msg := inbound("m1", "hi", 1)

	read, err := l.OnInbound(bobKey, "bob", &msg)
	require.NoError(t, err)
	assert.False(t, read)
	assert.Equal(t, 1, l.Count(bobKey))
	assert.Empty(t, sender.readsSent())

	// Coming back reads the active conversation once.
	require.NoError(t, l.SetVisible(true))
	assert.Equal(t, 0, l.Count(bobKey))
	assert.Len(t, sender.readsSent(), 1)

	require.NoError(t, l.SetVisible(true))
	assert.Len(t, sender.readsSent(), 1)
}

func TestLedgerClearSendsExactlyOnce(t *testing.T) {
	l, sender := newTestLedger()
	for i := 0; i < 3; i++ {
		msg := inbound("m"+string(rune('a'+i)), "hi", i)
		_, err := l.OnInbound(bobKey, "bob", &msg)
		require.NoError(t, err)
	}
	require.Equal(t, 3, l.Count(bobKey))

	require.NoError(t, l.Clear(bobKey))

	assert.Equal(t, 0, l.Count(bobKey))
	reads := sender.readsSent()
	require.Len(t, reads, 1)
	assert.Equal(t, &ws.PartnerRef{ID: 42, Role: domain.RoleUser}, reads[0].Partner)
	assert.Nil(t, reads[0].GroupID)
}

func TestLedgerClearResetsEvenWhenSendFails(t *testing.T) {
	l, sender := newTestLedger()
	msg := inbound("m1", "hi", 1)
	_, err := l.OnInbound(bobKey, "bob", &msg)
	require.NoError(t, err)

	sender.setErr(ws.ErrNotConnected)
	err = l.Clear(bobKey)

	assert.True(t, errors.Is(err, ws.ErrNotConnected))
	assert.Equal(t, 0, l.Count(bobKey))
}

func TestLedgerZeroActiveKeyNeverClears(t *testing.T) {
	l, sender := newTestLedger()
	msg := inbound("m1", "hi", 1)
	_, err := l.OnInbound(bobKey, "bob", &msg)
	require.NoError(t, err)

	l.SetActive(domain.ConversationKey{})
	require.NoError(t, l.SetVisible(false))
	require.NoError(t, l.SetVisible(true))

	assert.Equal(t, 1, l.Count(bobKey))
	assert.Empty(t, sender.readsSent())
}

func TestLedgerAdoptKeepsLiveState(t *testing.T) {
	l, _ := newTestLedger()

	// bob: two live messages before the snapshot lands; snapshot says 1.
	for _, id := range []string{"m1", "m2"} {
		msg := inbound(id, "live", 5)
		_, err := l.OnInbound(bobKey, "bob", &msg)
		require.NoError(t, err)
	}
	// carol: cleared live; snapshot is older and says 4.
	require.NoError(t, l.Clear(carolKey))

	err := l.Adopt([]domain.UnreadEntry{
		{Key: bobKey, DisplayName: "bob", Count: 1, LastPreview: "old", LastTimestamp: at(1)},
		{Key: carolKey, DisplayName: "carol", Count: 4, LastTimestamp: at(2)},
		{Key: teamKey, DisplayName: "team", Count: 2, LastPreview: "hey", LastTimestamp: at(3)},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, l.Count(bobKey))
	assert.Equal(t, 0, l.Count(carolKey))
	assert.Equal(t, 2, l.Count(teamKey))
	assert.Equal(t, 4, l.Total())

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, bobKey, entries[0].Key)
	assert.Equal(t, "live", entries[0].LastPreview)
}

func TestLedgerAdoptClearsActiveConversation(t *testing.T) {
	l, sender := newTestLedger()
	l.SetActive(teamKey)

	err := l.Adopt([]domain.UnreadEntry{{Key: teamKey, Count: 5}})
	require.NoError(t, err)

	assert.Equal(t, 0, l.Count(teamKey))
	reads := sender.readsSent()
	require.Len(t, reads, 1)
	require.NotNil(t, reads[0].GroupID)
	assert.Equal(t, int64(3), *reads[0].GroupID)
}

func TestLedgerAdoptClampsNegativeCounts(t *testing.T) {
	l, _ := newTestLedger()
	require.NoError(t, l.Adopt([]domain.UnreadEntry{{Key: bobKey, Count: -3}}))
	assert.Equal(t, 0, l.Count(bobKey))
}

func TestLedgerObserveDeduplicates(t *testing.T) {
	l, _ := newTestLedger()

	assert.True(t, l.Observe("m1"))
	assert.False(t, l.Observe("m1"))
	assert.True(t, l.Observe(""))
	assert.True(t, l.Observe(""))
}

func TestLedgerResetKeepsVisibility(t *testing.T) {
	l, _ := newTestLedger()
	l.SetActive(bobKey)
	require.NoError(t, l.SetVisible(false))
	msg := inbound("m1", "hi", 1)
	_, err := l.OnInbound(bobKey, "bob", &msg)
	require.NoError(t, err)
	l.Observe("m1")

	l.Reset()

	assert.Equal(t, 0, l.Total())
	assert.True(t, l.Active().IsZero())
	assert.False(t, l.Visible())
	assert.True(t, l.Observe("m1"))
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet(2)

	assert.True(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("c"))
	assert.Equal(t, 2, s.Len())

	// "a" fell out of the window.
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("c"))
}
