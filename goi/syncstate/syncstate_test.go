package syncstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/goi/db/dbtest"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/pkg/resp"
)

func strPtr(s string) *string       { return &s }
func f64Ptr(f float64) *float64     { return &f }
func slicePtr(s []string) *[]string { return &s }

func newTestManager(t *testing.T) Manager {
	t.Helper()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)
	return NewManager(hub, nil)
}

func TestGetEmptyUnderstanding(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	u := m.Get(context.Background(), "fresh")
	require.Empty(t, u.Summary)
	require.Zero(t, u.Confidence)
	require.True(t, u.UpdatedAt.IsZero())
}

func TestPartialPatch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Update(ctx, "s1", Patch{
		Summary:     strPtr("drafting deployment plan"),
		CurrentGoal: strPtr("ship v2"),
		Confidence:  f64Ptr(0.8),
	})
	require.NoError(t, err)

	// A later patch touches only one field; the rest survives.
	u, err := m.Update(ctx, "s1", Patch{
		CurrentPhase: strPtr("executing"),
	})
	require.NoError(t, err)
	require.Equal(t, "drafting deployment plan", u.Summary)
	require.Equal(t, "ship v2", u.CurrentGoal)
	require.Equal(t, "executing", u.CurrentPhase)
	require.InEpsilon(t, 0.8, u.Confidence, 1e-9)
	require.False(t, u.UpdatedAt.IsZero())
}

func TestLastWriterWins(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Update(ctx, "s1", Patch{Summary: strPtr("agent view")})
	require.NoError(t, err)
	_, err = m.Update(ctx, "s1", Patch{Summary: strPtr("user corrected view")})
	require.NoError(t, err)

	require.Equal(t, "user corrected view", m.Get(ctx, "s1").Summary)
}

func TestConfidenceValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	for _, bad := range []float64{-0.1, 1.01, 5} {
		_, err := m.Update(ctx, "s1", Patch{Confidence: f64Ptr(bad)})
		require.Error(t, err)
		require.Equal(t, resp.CodeValidation, resp.CodeOf(err))
	}
	// Bounds are inclusive.
	for _, ok := range []float64{0, 1} {
		_, err := m.Update(ctx, "s1", Patch{Confidence: f64Ptr(ok)})
		require.NoError(t, err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Update(ctx, "s1", Patch{
		SelectedResources: slicePtr([]string{"repo-a", "repo-b"}),
	})
	require.NoError(t, err)

	require.Len(t, m.Get(ctx, "s1").SelectedResources, 2)
	require.Empty(t, m.Get(ctx, "s2").SelectedResources)
}

func TestUpdatePublishesEvent(t *testing.T) {
	t.Parallel()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)
	m := NewManager(hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx, "s1", pubsub.UnderstandingUpdatedEvent)

	_, err := m.Update(ctx, "s1", Patch{Summary: strPtr("hello")})
	require.NoError(t, err)

	ev := <-events
	u, ok := ev.Payload.(Understanding)
	require.True(t, ok)
	require.Equal(t, "hello", u.Summary)
}

func TestUnderstandingSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := dbtest.NewFake()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)

	first := NewManager(hub, fake)
	_, err := first.Update(ctx, "s1", Patch{
		Summary:           strPtr("rolling out prompt v2"),
		SelectedResources: slicePtr([]string{"dataset-a", "rubric-b"}),
		Confidence:        f64Ptr(0.7),
	})
	require.NoError(t, err)

	// A second manager over the same store stands in for a restarted process.
	second := NewManager(hub, fake)
	u := second.Get(ctx, "s1")
	require.Equal(t, "rolling out prompt v2", u.Summary)
	require.Equal(t, []string{"dataset-a", "rubric-b"}, u.SelectedResources)
	require.InDelta(t, 0.7, u.Confidence, 1e-9)
	require.False(t, u.UpdatedAt.IsZero())

	// Unknown sessions still read as empty.
	require.Empty(t, second.Get(ctx, "s2").Summary)
}
