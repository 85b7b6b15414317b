// Package plugins tracks monitor/action deployments per agent and per
// originating plugin, queues triggers for pull-delivery at heartbeat time,
// and records delivery and execution results.
package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guardianware/guardian-hub/internal/store"
)

// DefaultTriggerTTL is how long an unacknowledged trigger may sit in queued
// or delivered before the sweep fails it. Pending work for an agent that has
// been offline for a day is stale by definition.
const DefaultTriggerTTL = 24 * time.Hour

var (
	ErrValidation        = errors.New("invalid deployment config")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrActionNotFound    = errors.New("action not deployed")
	ErrTriggerNotFound   = errors.New("trigger not found")
	ErrInvalidTransition = errors.New("invalid trigger state transition")
)

type Config struct {
	TriggerTTL    time.Duration `mapstructure:"trigger_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type Coordinator struct {
	store      store.Store
	triggerTTL time.Duration
}

func NewCoordinator(st store.Store, config Config) *Coordinator {
	ttl := config.TriggerTTL
	if ttl <= 0 {
		ttl = DefaultTriggerTTL
	}
	return &Coordinator{store: st, triggerTTL: ttl}
}

type MonitorConfig struct {
	PluginID  string
	MonitorID string
	Script    string
	Platforms []string
	Interval  int
}

type ActionConfig struct {
	PluginID  string
	ActionID  string
	Script    string
	Platforms []string
}

// DeployMonitor registers a recurring observation task. Redeploying the same
// (agent, plugin, monitor) updates the payload in place.
func (c *Coordinator) DeployMonitor(ctx context.Context, agentID string, config MonitorConfig) (*store.Monitor, error) {
	if config.PluginID == "" || config.MonitorID == "" || config.Script == "" {
		return nil, fmt.Errorf("%w: pluginId, monitorId and script are required", ErrValidation)
	}
	if err := c.checkAgent(ctx, agentID); err != nil {
		return nil, err
	}

	monitor := &store.Monitor{
		AgentID:    agentID,
		PluginID:   config.PluginID,
		MonitorID:  config.MonitorID,
		Script:     config.Script,
		Platforms:  config.Platforms,
		Interval:   config.Interval,
		DeployedAt: time.Now().UTC(),
	}
	if err := c.store.UpsertMonitor(ctx, monitor); err != nil {
		return nil, fmt.Errorf("deploy monitor: %w", err)
	}

	slog.Info("Monitor deployed",
		"agent_id", agentID,
		"plugin_id", config.PluginID,
		"monitor_id", config.MonitorID)
	return monitor, nil
}

// DeployAction registers a one-shot triggerable task, idempotent the same
// way DeployMonitor is.
func (c *Coordinator) DeployAction(ctx context.Context, agentID string, config ActionConfig) (*store.Action, error) {
	if config.PluginID == "" || config.ActionID == "" || config.Script == "" {
		return nil, fmt.Errorf("%w: pluginId, actionId and script are required", ErrValidation)
	}
	if err := c.checkAgent(ctx, agentID); err != nil {
		return nil, err
	}

	action := &store.Action{
		AgentID:    agentID,
		PluginID:   config.PluginID,
		ActionID:   config.ActionID,
		Script:     config.Script,
		Platforms:  config.Platforms,
		DeployedAt: time.Now().UTC(),
	}
	if err := c.store.UpsertAction(ctx, action); err != nil {
		return nil, fmt.Errorf("deploy action: %w", err)
	}

	slog.Info("Action deployed",
		"agent_id", agentID,
		"plugin_id", config.PluginID,
		"action_id", config.ActionID)
	return action, nil
}

// TriggerAction queues one invocation of a deployed action and returns its
// trigger id immediately; the caller never blocks on execution.
func (c *Coordinator) TriggerAction(ctx context.Context, agentID, pluginID, actionID string, arguments json.RawMessage) (string, error) {
	if _, err := c.store.GetAction(ctx, agentID, pluginID, actionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrActionNotFound
		}
		return "", fmt.Errorf("lookup action: %w", err)
	}

	args := []byte(arguments)
	if len(args) == 0 {
		args = []byte("{}")
	}

	trigger := &store.Trigger{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		PluginID:  pluginID,
		ActionID:  actionID,
		Arguments: args,
		State:     store.TriggerQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateTrigger(ctx, trigger); err != nil {
		return "", fmt.Errorf("queue trigger: %w", err)
	}

	slog.Info("Action triggered",
		"agent_id", agentID,
		"plugin_id", pluginID,
		"action_id", actionID,
		"trigger_id", trigger.ID)
	return trigger.ID, nil
}

// GetPendingActions returns all queued triggers for the agent without
// changing their state.
func (c *Coordinator) GetPendingActions(ctx context.Context, agentID string) ([]*store.Trigger, error) {
	return c.store.ListTriggers(ctx, agentID, []store.TriggerState{store.TriggerQueued})
}

// MarkActionsDelivered transitions the named triggers queued -> delivered.
func (c *Coordinator) MarkActionsDelivered(ctx context.Context, agentID string, triggerIDs []string) error {
	if len(triggerIDs) == 0 {
		return nil
	}
	return c.store.MarkTriggersDelivered(ctx, agentID, triggerIDs, time.Now().UTC())
}

// ClaimPendingActions drains the queued triggers and marks them delivered as
// one atomic step. The heartbeat path uses this so two near-simultaneous
// heartbeats from the same agent cannot both believe they own a trigger.
func (c *Coordinator) ClaimPendingActions(ctx context.Context, agentID string) ([]*store.Trigger, error) {
	triggers, err := c.store.ClaimQueuedTriggers(ctx, agentID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim pending actions: %w", err)
	}
	if len(triggers) > 0 {
		slog.Debug("Delivered pending actions", "agent_id", agentID, "count", len(triggers))
	}
	return triggers, nil
}

// ActionResponse is one execution result reported by an agent.
type ActionResponse struct {
	TriggerID  string
	Status     string
	ReturnCode int
	Output     string
	Error      string
	ExecutedAt time.Time
}

// BatchError describes one rejected entry in a partial-failure batch.
type BatchError struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

// ProcessActionResponses applies each response independently: one malformed
// or anomalous entry never blocks the rest of the batch.
func (c *Coordinator) ProcessActionResponses(ctx context.Context, agentID string, responses []ActionResponse) (int, []BatchError) {
	processed := 0
	var batchErrors []BatchError

	for _, response := range responses {
		if err := c.applyResponse(ctx, agentID, response); err != nil {
			batchErrors = append(batchErrors, BatchError{Ref: response.TriggerID, Error: err.Error()})
			continue
		}
		processed++
	}

	if len(batchErrors) > 0 {
		slog.Warn("Action response batch had errors",
			"agent_id", agentID,
			"processed", processed,
			"errors", len(batchErrors))
	}
	return processed, batchErrors
}

func (c *Coordinator) applyResponse(ctx context.Context, agentID string, response ActionResponse) error {
	if response.TriggerID == "" {
		return errors.New("missing triggerId")
	}

	var state store.TriggerState
	switch response.Status {
	case "completed":
		state = store.TriggerCompleted
	case "failed":
		state = store.TriggerFailed
	default:
		return fmt.Errorf("unknown status %q", response.Status)
	}

	result := &store.TriggerResult{
		ReturnCode: response.ReturnCode,
		Output:     response.Output,
		Error:      response.Error,
		ExecutedAt: response.ExecutedAt,
	}
	err := c.store.CompleteTrigger(ctx, agentID, response.TriggerID, state, result)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTriggerNotFound
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		// Likely a duplicate or late response for a trigger that was never
		// delivered or already finished.
		slog.Warn("Rejected anomalous trigger response",
			"agent_id", agentID,
			"trigger_id", response.TriggerID,
			"status", response.Status)
		return ErrInvalidTransition
	}
	return err
}

// ProcessPluginData ingests monitor observations shaped as
// {pluginId: {monitorId: [data, ...]}}, item by item.
func (c *Coordinator) ProcessPluginData(ctx context.Context, agentID string, data map[string]map[string][]json.RawMessage) (int, []BatchError) {
	processed := 0
	var batchErrors []BatchError

	for pluginID, monitors := range data {
		for monitorID, items := range monitors {
			ref := pluginID + "/" + monitorID
			if pluginID == "" || monitorID == "" {
				batchErrors = append(batchErrors, BatchError{Ref: ref, Error: "missing pluginId or monitorId"})
				continue
			}
			for _, item := range items {
				record := &store.PluginDataRecord{
					ID:         uuid.NewString(),
					AgentID:    agentID,
					PluginID:   pluginID,
					MonitorID:  monitorID,
					Payload:    item,
					ReceivedAt: time.Now().UTC(),
				}
				if err := c.store.InsertPluginData(ctx, record); err != nil {
					batchErrors = append(batchErrors, BatchError{Ref: ref, Error: err.Error()})
					continue
				}
				processed++
			}
		}
	}
	return processed, batchErrors
}

// DeploymentStatus is the read model over an agent's plugin surface.
type DeploymentStatus struct {
	Monitors        []*store.Monitor
	Actions         []*store.Action
	PendingTriggers []*store.Trigger
}

func (c *Coordinator) GetDeploymentStatus(ctx context.Context, agentID string) (*DeploymentStatus, error) {
	if err := c.checkAgent(ctx, agentID); err != nil {
		return nil, err
	}

	monitors, err := c.store.ListMonitors(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	actions, err := c.store.ListActions(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	pending, err := c.store.ListTriggers(ctx, agentID,
		[]store.TriggerState{store.TriggerQueued, store.TriggerDelivered})
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}

	return &DeploymentStatus{Monitors: monitors, Actions: actions, PendingTriggers: pending}, nil
}

func (c *Coordinator) GetRecentPluginData(ctx context.Context, agentID, pluginID string, limit int) ([]*store.PluginDataRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListRecentPluginData(ctx, agentID, pluginID, limit)
}

func (c *Coordinator) checkAgent(ctx context.Context, agentID string) error {
	if _, err := c.store.GetAgent(ctx, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAgentNotFound
		}
		return fmt.Errorf("lookup agent: %w", err)
	}
	return nil
}

// StartSweep periodically fails triggers that sat unacknowledged past the
// TTL and purges expired bootstrap tokens. Runs until ctx is cancelled.
func (c *Coordinator) StartSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	expired, err := c.store.ExpireStaleTriggers(ctx, time.Now().UTC().Add(-c.triggerTTL))
	if err != nil {
		slog.Error("Trigger sweep failed", "error", err)
	} else if expired > 0 {
		slog.Info("Expired stale triggers", "count", expired)
	}

	purged, err := c.store.DeleteExpiredBootstrapTokens(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Bootstrap token sweep failed", "error", err)
	} else if purged > 0 {
		slog.Debug("Purged expired bootstrap tokens", "count", purged)
	}
}
