package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/goi/db/dbtest"
	"github.com/promptlab/promptlab/goi/pubsub"
)

func newTestManager(t *testing.T, liveSessions map[string]bool) Manager {
	t.Helper()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)
	m := NewManager(hub, nil)
	m.SetLoopChecker(func(sessionID string) bool {
		return liveSessions[sessionID]
	})
	return m
}

func TestUserHoldsControlByDefault(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	require.Equal(t, PartyUser, m.Controller("fresh-session"))
}

func TestTransferToAI(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t, map[string]bool{"s1": true})

	res := m.TransferTo(ctx, "s1", PartyAI, "let the agent drive", "")
	require.True(t, res.Success)
	require.Equal(t, PartyUser, res.From)
	require.Equal(t, PartyAI, res.To)
	require.False(t, res.TransferredAt.IsZero())
	require.Equal(t, PartyAI, m.Controller("s1"))
}

func TestTransferRefusals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		live    map[string]bool
		session string
		setup   func(m Manager)
		to      Party
	}{
		{
			name:    "invalid target",
			session: "s1",
			to:      Party("robot"),
		},
		{
			name:    "already held",
			session: "s1",
			to:      PartyUser,
		},
		{
			name:    "no live loop for ai",
			session: "s1",
			to:      PartyAI,
		},
		{
			name:    "loop in another session does not count",
			live:    map[string]bool{"s2": true},
			session: "s1",
			to:      PartyAI,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newTestManager(t, tt.live)
			if tt.setup != nil {
				tt.setup(m)
			}
			res := m.TransferTo(ctx, tt.session, tt.to, "", "")
			require.False(t, res.Success)
			require.NotEmpty(t, res.Error)
			// A refused transfer changes nothing.
			require.Equal(t, PartyUser, m.Controller(tt.session))
			require.Empty(t, m.History(ctx, tt.session))
		})
	}
}

func TestHandbackRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t, map[string]bool{"s1": true})

	require.True(t, m.TransferTo(ctx, "s1", PartyAI, "start", "").Success)
	require.True(t, m.TransferTo(ctx, "s1", PartyUser, "takeover", "pausing for review").Success)
	require.True(t, m.TransferTo(ctx, "s1", PartyAI, "handback", "").Success)

	history := m.History(ctx, "s1")
	require.Len(t, history, 3)
	require.Equal(t, PartyUser, history[0].From)
	require.Equal(t, PartyAI, history[0].To)
	require.Equal(t, "takeover", history[1].Reason)
	require.Equal(t, "pausing for review", history[1].Message)
	require.Equal(t, PartyAI, history[2].To)
}

func TestControlSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := dbtest.NewFake()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)

	first := NewManager(hub, fake)
	first.SetLoopChecker(func(string) bool { return true })
	require.True(t, first.TransferTo(ctx, "s1", PartyAI, "start", "").Success)
	require.True(t, first.TransferTo(ctx, "s1", PartyUser, "takeover", "").Success)

	// A second manager over the same store stands in for a restarted process.
	second := NewManager(hub, fake)
	require.Equal(t, PartyUser, second.Controller("s1"))
	history := second.History(ctx, "s1")
	require.Len(t, history, 2)
	require.Equal(t, PartyAI, history[0].To)
	require.Equal(t, "takeover", history[1].Reason)

	// Sessions the store never saw still default to the user.
	require.Equal(t, PartyUser, second.Controller("s2"))
}

func TestTransferPublishesEvent(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)
	m := NewManager(hub, nil)
	m.SetLoopChecker(func(string) bool { return true })

	events := hub.Subscribe(ctx, "s1", pubsub.ControlTransferredEvent)
	res := m.TransferTo(ctx, "s1", PartyAI, "go", "")
	require.True(t, res.Success)

	ev := <-events
	require.Equal(t, pubsub.ControlTransferredEvent, ev.Type)
	transfer, ok := ev.Payload.(Transfer)
	require.True(t, ok)
	require.Equal(t, PartyAI, transfer.To)
}
