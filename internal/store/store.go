// Package store defines the persistence interface for the hub.
// All implementations (PostgreSQL, in-memory) satisfy the Store interface,
// allowing services to swap backends without changing business logic.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrTokenExpired      = errors.New("bootstrap token expired")
	ErrInvalidTransition = errors.New("invalid trigger state transition")
)

// TriggerState is the delivery lifecycle of an action trigger.
type TriggerState string

const (
	TriggerQueued    TriggerState = "queued"
	TriggerDelivered TriggerState = "delivered"
	TriggerCompleted TriggerState = "completed"
	TriggerFailed    TriggerState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TriggerState) Terminal() bool {
	return s == TriggerCompleted || s == TriggerFailed
}

// Store is the persistence interface for all hub data.
// Implementations must be safe for concurrent use.
type Store interface {
	// Registered agents.
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByTokenHash(ctx context.Context, tokenHash string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgentHeartbeat(ctx context.Context, id string, at time.Time, meta AgentMetadata) error
	DeleteAgent(ctx context.Context, id string) error

	// Bootstrap tokens (installer tokens and registration codes).
	// ConsumeBootstrapToken deletes the token and returns it in one atomic
	// step; two concurrent redemptions of the same token cannot both succeed.
	CreateBootstrapToken(ctx context.Context, token *BootstrapToken) error
	ConsumeBootstrapToken(ctx context.Context, tokenHash string) (*BootstrapToken, error)
	DeleteExpiredBootstrapTokens(ctx context.Context, now time.Time) (int, error)

	// Per-agent policies.
	CreatePolicy(ctx context.Context, policy *Policy) error
	GetPolicies(ctx context.Context, agentID string) ([]*Policy, error)
	UpdatePolicy(ctx context.Context, agentID, policyID string, fields map[string]any) (*Policy, error)
	DeletePolicy(ctx context.Context, agentID, policyID string) error

	// Violations reported by agents. Append-only.
	CreateViolation(ctx context.Context, violation *Violation) error
	ListViolations(ctx context.Context, agentID string, limit int) ([]*Violation, error)

	// OS-level user sessions observed on agents.
	CreateUserSession(ctx context.Context, session *UserSession) error
	GetLatestUserSession(ctx context.Context, agentID string) (*UserSession, error)
	ListUserSessions(ctx context.Context, agentID string, limit int) ([]*UserSession, error)

	// Plugin deployments. Upserts are keyed on (agent, plugin, id).
	UpsertMonitor(ctx context.Context, monitor *Monitor) error
	UpsertAction(ctx context.Context, action *Action) error
	GetAction(ctx context.Context, agentID, pluginID, actionID string) (*Action, error)
	ListMonitors(ctx context.Context, agentID string) ([]*Monitor, error)
	ListActions(ctx context.Context, agentID string) ([]*Action, error)

	// Action triggers.
	CreateTrigger(ctx context.Context, trigger *Trigger) error
	GetTrigger(ctx context.Context, triggerID string) (*Trigger, error)
	ListTriggers(ctx context.Context, agentID string, states []TriggerState) ([]*Trigger, error)
	// ClaimQueuedTriggers atomically transitions all queued triggers for the
	// agent to delivered and returns them. Two concurrent heartbeats cannot
	// both claim the same trigger.
	ClaimQueuedTriggers(ctx context.Context, agentID string, at time.Time) ([]*Trigger, error)
	MarkTriggersDelivered(ctx context.Context, agentID string, triggerIDs []string, at time.Time) error
	// CompleteTrigger transitions a delivered trigger to a terminal state.
	// Fails with ErrInvalidTransition if the trigger is not in delivered.
	CompleteTrigger(ctx context.Context, agentID, triggerID string, state TriggerState, result *TriggerResult) error
	ExpireStaleTriggers(ctx context.Context, cutoff time.Time) (int, error)

	// Monitor observations pushed by agents, for plugin consumption.
	InsertPluginData(ctx context.Context, record *PluginDataRecord) error
	ListRecentPluginData(ctx context.Context, agentID, pluginID string, limit int) ([]*PluginDataRecord, error)

	// Close releases database resources.
	Close()
}

// Agent is the persistent record for a registered agent process.
type Agent struct {
	ID             string
	MachineID      string
	Hostname       string
	Platform       string
	Version        string
	IP             string
	AuthTokenHash  string
	DefaultChildID string
	RegisteredAt   time.Time
	LastHeartbeat  time.Time
}

// AgentMetadata is the mutable metadata an agent pushes with heartbeats.
// Empty fields are left unchanged.
type AgentMetadata struct {
	Hostname string
	Platform string
	Version  string
	IP       string
}

// BootstrapToken is a single-use credential that an agent exchanges for a
// durable identity: either an installer-embedded token or a human-facing
// registration code. Only the hash is stored.
type BootstrapToken struct {
	ID        string
	TokenHash string
	ChildID   string
	Platform  string
	Version   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Policy is an enforcement rule scoped to one agent.
type Policy struct {
	ID        string
	AgentID   string
	Type      string
	Name      string
	Config    []byte
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Violation is an event reported by an agent when a policy was breached.
type Violation struct {
	ID         string
	AgentID    string
	PolicyID   string
	Type       string
	Details    []byte
	OccurredAt time.Time
	ReportedAt time.Time
}

// UserSession records which OS user was active on an agent at a point in time.
type UserSession struct {
	ID         string
	AgentID    string
	Username   string
	RecordedAt time.Time
}

// Monitor is a recurring observation task deployed by a plugin.
type Monitor struct {
	AgentID    string
	PluginID   string
	MonitorID  string
	Script     string
	Platforms  []string
	Interval   int
	DeployedAt time.Time
	UpdatedAt  time.Time
}

// Action is a one-shot, triggerable task deployed by a plugin.
type Action struct {
	AgentID    string
	PluginID   string
	ActionID   string
	Script     string
	Platforms  []string
	DeployedAt time.Time
	UpdatedAt  time.Time
}

// Trigger is one pending invocation of a deployed action.
type Trigger struct {
	ID          string
	AgentID     string
	PluginID    string
	ActionID    string
	Arguments   []byte
	State       TriggerState
	CreatedAt   time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	Result      *TriggerResult
}

// TriggerResult is the execution outcome an agent reports for a trigger.
type TriggerResult struct {
	ReturnCode int
	Output     string
	Error      string
	ExecutedAt time.Time
}

// PluginDataRecord is one monitor observation ingested from an agent.
type PluginDataRecord struct {
	ID         string
	AgentID    string
	PluginID   string
	MonitorID  string
	Payload    []byte
	ReceivedAt time.Time
}

// ValidTransition reports whether a trigger may move from one state to the
// next. The lifecycle is queued -> delivered -> {completed | failed}, plus
// queued/delivered -> failed for TTL expiry.
func ValidTransition(from, to TriggerState) bool {
	switch from {
	case TriggerQueued:
		return to == TriggerDelivered || to == TriggerFailed
	case TriggerDelivered:
		return to == TriggerCompleted || to == TriggerFailed
	default:
		return false
	}
}
