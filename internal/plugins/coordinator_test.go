package plugins

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/guardianware/guardian-hub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, st.CreateAgent(context.Background(), &store.Agent{
		ID:            "agent-1",
		MachineID:     "machine-1",
		Hostname:      "kids-laptop",
		Platform:      "windows",
		RegisteredAt:  now,
		LastHeartbeat: now,
	}))
	return NewCoordinator(st, Config{}), st
}

func deployTestAction(t *testing.T, c *Coordinator) {
	t.Helper()
	_, err := c.DeployAction(context.Background(), "agent-1", ActionConfig{
		PluginID: "screen-time",
		ActionID: "lock",
		Script:   "lock_screen()",
	})
	require.NoError(t, err)
}

func TestDeployMonitor(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	monitor, err := c.DeployMonitor(ctx, "agent-1", MonitorConfig{
		PluginID:  "screen-time",
		MonitorID: "usage",
		Script:    "report_usage()",
		Platforms: []string{"windows", "macos"},
		Interval:  300,
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", monitor.AgentID)

	// Redeploy replaces the payload instead of stacking a duplicate.
	_, err = c.DeployMonitor(ctx, "agent-1", MonitorConfig{
		PluginID:  "screen-time",
		MonitorID: "usage",
		Script:    "report_usage_v2()",
		Interval:  60,
	})
	require.NoError(t, err)

	monitors, err := st.ListMonitors(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "report_usage_v2()", monitors[0].Script)
}

func TestDeployMonitor_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.DeployMonitor(ctx, "agent-1", MonitorConfig{PluginID: "p", MonitorID: "m"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = c.DeployMonitor(ctx, "missing", MonitorConfig{PluginID: "p", MonitorID: "m", Script: "s"})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestTriggerAction_RequiresDeployment(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.TriggerAction(context.Background(), "agent-1", "screen-time", "lock", nil)
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestTriggerLifecycle(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	deployTestAction(t, c)

	triggerID, err := c.TriggerAction(ctx, "agent-1", "screen-time", "lock", json.RawMessage(`{"duration":600}`))
	require.NoError(t, err)
	require.NotEmpty(t, triggerID)

	// Queued until a heartbeat claims it.
	pending, err := c.GetPendingActions(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, store.TriggerQueued, pending[0].State)

	claimed, err := c.ClaimPendingActions(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, triggerID, claimed[0].ID)
	assert.Equal(t, store.TriggerDelivered, claimed[0].State)

	// A second heartbeat sees nothing; at-least-once, not at-every-beat.
	claimed, err = c.ClaimPendingActions(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, claimed)

	processed, batchErrors := c.ProcessActionResponses(ctx, "agent-1", []ActionResponse{{
		TriggerID:  triggerID,
		Status:     "completed",
		ReturnCode: 0,
		Output:     "locked",
		ExecutedAt: time.Now().UTC(),
	}})
	assert.Equal(t, 1, processed)
	assert.Empty(t, batchErrors)

	final, err := st.GetTrigger(ctx, triggerID)
	require.NoError(t, err)
	assert.Equal(t, store.TriggerCompleted, final.State)
	require.NotNil(t, final.Result)
	assert.Equal(t, "locked", final.Result.Output)
}

func TestTriggerAction_EmptyArguments(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()
	deployTestAction(t, c)

	triggerID, err := c.TriggerAction(ctx, "agent-1", "screen-time", "lock", nil)
	require.NoError(t, err)

	trigger, err := st.GetTrigger(ctx, triggerID)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(trigger.Arguments))
}

func TestProcessActionResponses_PartialFailure(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	deployTestAction(t, c)

	goodID, err := c.TriggerAction(ctx, "agent-1", "screen-time", "lock", nil)
	require.NoError(t, err)
	_, err = c.ClaimPendingActions(ctx, "agent-1")
	require.NoError(t, err)

	processed, batchErrors := c.ProcessActionResponses(ctx, "agent-1", []ActionResponse{
		{TriggerID: goodID, Status: "failed", ReturnCode: 1, Error: "screen already locked"},
		{TriggerID: "never-issued", Status: "completed"},
		{TriggerID: goodID, Status: "exploded"},
		{Status: "completed"},
	})

	assert.Equal(t, 1, processed)
	require.Len(t, batchErrors, 3)
	assert.Equal(t, "never-issued", batchErrors[0].Ref)
	assert.Equal(t, goodID, batchErrors[1].Ref)
}

func TestProcessActionResponses_DuplicateResponse(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	deployTestAction(t, c)

	triggerID, err := c.TriggerAction(ctx, "agent-1", "screen-time", "lock", nil)
	require.NoError(t, err)
	_, err = c.ClaimPendingActions(ctx, "agent-1")
	require.NoError(t, err)

	response := ActionResponse{TriggerID: triggerID, Status: "completed"}
	processed, batchErrors := c.ProcessActionResponses(ctx, "agent-1", []ActionResponse{response})
	assert.Equal(t, 1, processed)
	assert.Empty(t, batchErrors)

	// A replayed response is rejected without corrupting the stored result.
	processed, batchErrors = c.ProcessActionResponses(ctx, "agent-1", []ActionResponse{response})
	assert.Equal(t, 0, processed)
	assert.Len(t, batchErrors, 1)
}

func TestProcessPluginData(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	processed, batchErrors := c.ProcessPluginData(ctx, "agent-1", map[string]map[string][]json.RawMessage{
		"screen-time": {
			"usage": {
				json.RawMessage(`{"minutes":42}`),
				json.RawMessage(`{"minutes":57}`),
			},
		},
		"": {
			"orphan": {json.RawMessage(`{}`)},
		},
	})

	assert.Equal(t, 2, processed)
	require.Len(t, batchErrors, 1)
	assert.Equal(t, "/orphan", batchErrors[0].Ref)

	records, err := st.ListRecentPluginData(ctx, "agent-1", "screen-time", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGetDeploymentStatus(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	deployTestAction(t, c)

	_, err := c.DeployMonitor(ctx, "agent-1", MonitorConfig{
		PluginID: "screen-time", MonitorID: "usage", Script: "report_usage()",
	})
	require.NoError(t, err)

	triggerID, err := c.TriggerAction(ctx, "agent-1", "screen-time", "lock", nil)
	require.NoError(t, err)

	status, err := c.GetDeploymentStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, status.Monitors, 1)
	assert.Len(t, status.Actions, 1)
	require.Len(t, status.PendingTriggers, 1)
	assert.Equal(t, triggerID, status.PendingTriggers[0].ID)

	_, err = c.GetDeploymentStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestSweep_ExpiresStaleTriggers(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "agent-1", RegisteredAt: now, LastHeartbeat: now}))

	c := NewCoordinator(st, Config{TriggerTTL: time.Hour})

	require.NoError(t, st.CreateTrigger(ctx, &store.Trigger{
		ID: "stale", AgentID: "agent-1", PluginID: "p", ActionID: "a",
		State: store.TriggerQueued, CreatedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, st.CreateTrigger(ctx, &store.Trigger{
		ID: "fresh", AgentID: "agent-1", PluginID: "p", ActionID: "a",
		State: store.TriggerQueued, CreatedAt: now,
	}))

	c.sweep(ctx)

	stale, err := st.GetTrigger(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.TriggerFailed, stale.State)

	fresh, err := st.GetTrigger(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.TriggerQueued, fresh.State)
}
