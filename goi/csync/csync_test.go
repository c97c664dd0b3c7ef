package csync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapGetOrSet(t *testing.T) {
	t.Parallel()
	m := NewMap[string, int]()

	v, loaded := m.GetOrSet("a", 1)
	require.False(t, loaded)
	require.Equal(t, 1, v)

	v, loaded = m.GetOrSet("a", 2)
	require.True(t, loaded)
	require.Equal(t, 1, v)
}

func TestMapGetOrSetSingleWinner(t *testing.T) {
	t.Parallel()
	m := NewMap[string, int]()

	var wg sync.WaitGroup
	wins := make(chan int, 32)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, loaded := m.GetOrSet("key", i); !loaded {
				wins <- i
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
	v, ok := m.Get("key")
	require.True(t, ok)
	require.Equal(t, winners[0], v)
}

func TestMapTake(t *testing.T) {
	t.Parallel()
	m := NewMap[string, string]()
	m.Set("k", "v")

	v, ok := m.Take("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	_, ok = m.Take("k")
	require.False(t, ok)
	require.Zero(t, m.Len())
}

func TestMapSeq2Snapshot(t *testing.T) {
	t.Parallel()
	m := NewMap[int, int]()
	for i := range 10 {
		m.Set(i, i*i)
	}

	seen := 0
	for k, v := range m.Seq2() {
		// mutation during iteration must not affect the snapshot
		m.Del(k)
		require.Equal(t, k*k, v)
		seen++
	}
	require.Equal(t, 10, seen)
	require.Zero(t, m.Len())
}

func TestValue(t *testing.T) {
	t.Parallel()
	v := NewValue("idle")
	require.Equal(t, "idle", v.Get())
	v.Set("running")
	require.Equal(t, "running", v.Get())
}
