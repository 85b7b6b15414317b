package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAgent(t *testing.T, s Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateAgent(context.Background(), &Agent{
		ID:            id,
		MachineID:     "machine-" + id,
		Hostname:      "host-" + id,
		Platform:      "windows",
		RegisteredAt:  now,
		LastHeartbeat: now,
	}))
}

func seedTrigger(t *testing.T, s Store, id, agentID string, state TriggerState) {
	t.Helper()
	require.NoError(t, s.CreateTrigger(context.Background(), &Trigger{
		ID:        id,
		AgentID:   agentID,
		PluginID:  "screen-time",
		ActionID:  "lock",
		Arguments: []byte("{}"),
		State:     state,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestConsumeBootstrapToken_SingleUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateBootstrapToken(ctx, &BootstrapToken{
		ID:        "t1",
		TokenHash: "hash-1",
		ChildID:   "child-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	token, err := s.ConsumeBootstrapToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "child-1", token.ChildID)

	_, err = s.ConsumeBootstrapToken(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeBootstrapToken_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateBootstrapToken(ctx, &BootstrapToken{
		ID:        "t1",
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeBootstrapToken(ctx, "hash-1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestConsumeBootstrapToken_Expired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateBootstrapToken(ctx, &BootstrapToken{
		ID:        "t1",
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := s.ConsumeBootstrapToken(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrTokenExpired)

	// Expired tokens are consumed too; no retry can succeed.
	_, err = s.ConsumeBootstrapToken(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimQueuedTriggers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, s, "a1")
	seedTrigger(t, s, "tr1", "a1", TriggerQueued)
	seedTrigger(t, s, "tr2", "a1", TriggerQueued)
	seedTrigger(t, s, "tr3", "a1", TriggerDelivered)
	seedTrigger(t, s, "tr4", "other", TriggerQueued)

	at := time.Now().UTC()
	claimed, err := s.ClaimQueuedTriggers(ctx, "a1", at)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, tr := range claimed {
		assert.Equal(t, TriggerDelivered, tr.State)
		require.NotNil(t, tr.DeliveredAt)
	}

	// Second claim finds nothing left.
	claimed, err = s.ClaimQueuedTriggers(ctx, "a1", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// The other agent's trigger is untouched.
	other, err := s.GetTrigger(ctx, "tr4")
	require.NoError(t, err)
	assert.Equal(t, TriggerQueued, other.State)
}

func TestClaimQueuedTriggers_ConcurrentHeartbeats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, s, "a1")
	for _, id := range []string{"tr1", "tr2", "tr3", "tr4", "tr5"} {
		seedTrigger(t, s, id, "a1", TriggerQueued)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimQueuedTriggers(ctx, "a1", time.Now().UTC())
			assert.NoError(t, err)
			mu.Lock()
			for _, tr := range claimed {
				seen[tr.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, 5)
	for id, count := range seen {
		assert.Equal(t, 1, count, "trigger %s delivered more than once", id)
	}
}

func TestCompleteTrigger_Transitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, s, "a1")
	seedTrigger(t, s, "tr1", "a1", TriggerDelivered)

	result := &TriggerResult{ReturnCode: 0, Output: "locked", ExecutedAt: time.Now().UTC()}
	require.NoError(t, s.CompleteTrigger(ctx, "a1", "tr1", TriggerCompleted, result))

	tr, err := s.GetTrigger(ctx, "tr1")
	require.NoError(t, err)
	assert.Equal(t, TriggerCompleted, tr.State)
	require.NotNil(t, tr.Result)
	assert.Equal(t, "locked", tr.Result.Output)

	// Completed is terminal.
	err = s.CompleteTrigger(ctx, "a1", "tr1", TriggerFailed, result)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteTrigger_RequiresDelivered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, s, "a1")
	seedTrigger(t, s, "tr1", "a1", TriggerQueued)

	result := &TriggerResult{ExecutedAt: time.Now().UTC()}
	err := s.CompleteTrigger(ctx, "a1", "tr1", TriggerCompleted, result)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.CompleteTrigger(ctx, "a1", "missing", TriggerCompleted, result)
	assert.ErrorIs(t, err, ErrNotFound)

	// A trigger cannot be completed by a different agent.
	err = s.CompleteTrigger(ctx, "other", "tr1", TriggerCompleted, result)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireStaleTriggers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, s, "a1")

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.CreateTrigger(ctx, &Trigger{
		ID: "stale", AgentID: "a1", PluginID: "p", ActionID: "a",
		State: TriggerQueued, CreatedAt: old,
	}))
	seedTrigger(t, s, "fresh", "a1", TriggerQueued)

	expired, err := s.ExpireStaleTriggers(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	tr, err := s.GetTrigger(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, TriggerFailed, tr.State)
	require.NotNil(t, tr.Result)
	assert.Equal(t, "trigger expired", tr.Result.Error)

	fresh, err := s.GetTrigger(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, TriggerQueued, fresh.State)
}

func TestUpdateAgentHeartbeat_MergesMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, s, "a1")

	at := time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.UpdateAgentHeartbeat(ctx, "a1", at, AgentMetadata{Version: "2.0.0"}))

	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, at, agent.LastHeartbeat)
	assert.Equal(t, "2.0.0", agent.Version)
	// Empty fields keep their stored values.
	assert.Equal(t, "host-a1", agent.Hostname)

	err = s.UpdateAgentHeartbeat(ctx, "nope", at, AgentMetadata{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertMonitor_Idempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := time.Now().UTC()
	require.NoError(t, s.UpsertMonitor(ctx, &Monitor{
		AgentID: "a1", PluginID: "screen-time", MonitorID: "usage",
		Script: "v1", Interval: 60, DeployedAt: first,
	}))
	require.NoError(t, s.UpsertMonitor(ctx, &Monitor{
		AgentID: "a1", PluginID: "screen-time", MonitorID: "usage",
		Script: "v2", Interval: 30, DeployedAt: first.Add(time.Minute),
	}))

	monitors, err := s.ListMonitors(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "v2", monitors[0].Script)
	assert.Equal(t, 30, monitors[0].Interval)
	// The original deployment time survives updates.
	assert.Equal(t, first, monitors[0].DeployedAt)
}

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(TriggerQueued, TriggerDelivered))
	assert.True(t, ValidTransition(TriggerQueued, TriggerFailed))
	assert.True(t, ValidTransition(TriggerDelivered, TriggerCompleted))
	assert.True(t, ValidTransition(TriggerDelivered, TriggerFailed))

	assert.False(t, ValidTransition(TriggerQueued, TriggerCompleted))
	assert.False(t, ValidTransition(TriggerDelivered, TriggerQueued))
	assert.False(t, ValidTransition(TriggerCompleted, TriggerFailed))
	assert.False(t, ValidTransition(TriggerFailed, TriggerDelivered))
}
