package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/redisx"
	"github.com/promptlab/promptlab/pkg/resp"
)

// newReplicaManager builds a manager with its own hub and controllers, the way
// a separate process would, sharing only the store and the redis client.
func newReplicaManager(t *testing.T, client redisx.Redis, store *todo.MemoryStore) *SessionManager {
	t.Helper()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)
	m := NewSessionManager(ManagerOptions{
		Store:       store,
		Checkpoints: checkpoint.NewController(hub, nil, checkpoint.ExpiryReject),
		Control:     control.NewManager(hub, nil),
		Hub:         hub,
		Executor: StepFunc(func(ctx context.Context, req StepRequest) (StepResult, error) {
			return StepResult{Outcome: OutcomeSuccess}, nil
		}),
		Redis: client,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestSessionLockAcrossReplicas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, err := redisx.NewRedis(redisx.RedisConfig{RedisType: "miniredis"})
	require.NoError(t, err)
	store := todo.NewMemoryStore()
	list, err := store.CreateList(ctx, todo.CreateListArgs{
		Goal:  "shared goal",
		Items: []todo.NewItem{{Title: "a"}},
	})
	require.NoError(t, err)

	replicaA := newReplicaManager(t, client, store)
	replicaB := newReplicaManager(t, client, store)

	_, err = replicaA.GetOrCreate(ctx, "s1", list.ID, Config{})
	require.NoError(t, err)

	// The other replica cannot take the session while the lock is held.
	_, err = replicaB.GetOrCreate(ctx, "s1", list.ID, Config{})
	require.Error(t, err)
	require.Equal(t, resp.CodeConflict, resp.CodeOf(err))

	// Unregistering releases the lock, so the session can move over.
	require.NoError(t, replicaA.Delete(ctx, "s1", false))
	loop, err := replicaB.GetOrCreate(ctx, "s1", list.ID, Config{})
	require.NoError(t, err)
	require.NotNil(t, loop)
}
