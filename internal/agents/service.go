// Package agents implements the agent lifecycle: registration, heartbeats,
// policy CRUD, violation intake, user-session tracking, and bootstrap
// credential issuance.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guardianware/guardian-hub/internal/auth"
	"github.com/guardianware/guardian-hub/internal/store"
)

// BootstrapTokenTTL bounds how long an installer token or registration code
// stays redeemable.
const BootstrapTokenTTL = 24 * time.Hour

// DefaultHeartbeatInterval is the cadence agents are configured with out of
// the box. An agent is considered online within twice this interval of its
// last heartbeat.
const DefaultHeartbeatInterval = 60 * time.Second

var (
	ErrValidation     = errors.New("invalid agent info")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrPolicyNotFound = errors.New("policy not found")
	ErrCodeNotFound   = errors.New("registration code not found")
	ErrCodeExpired    = errors.New("registration code expired")
)

type Config struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type Service struct {
	store             store.Store
	jwtConfig         auth.JWTConfig
	heartbeatInterval time.Duration
}

func NewService(st store.Store, jwtConfig auth.JWTConfig, config Config) *Service {
	interval := config.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Service{store: st, jwtConfig: jwtConfig, heartbeatInterval: interval}
}

type RegisterParams struct {
	RegistrationCode string
	AuthToken        string
	Info             auth.AgentInfo
}

type RegisterResult struct {
	Agent    *store.Agent
	Token    string
	ChildID  string
	Policies []*store.Policy
}

// Register creates a durable agent identity. The child association comes
// from whichever bootstrap credential was presented; both the registration
// code and the installer token paths consume the credential exactly once.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	info := params.Info
	if info.MachineID == "" || info.Hostname == "" || info.Platform == "" {
		return nil, fmt.Errorf("%w: machineId, hostname and platform are required", ErrValidation)
	}

	credential := params.RegistrationCode
	if credential == "" {
		credential = params.AuthToken
	}

	var childID string
	if credential != "" {
		token, err := s.store.ConsumeBootstrapToken(ctx, auth.HashCredential(credential))
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		if errors.Is(err, store.ErrTokenExpired) {
			return nil, ErrCodeExpired
		}
		if err != nil {
			return nil, fmt.Errorf("redeem credential: %w", err)
		}
		childID = token.ChildID
	}

	var authTokenHash string
	if params.AuthToken != "" {
		authTokenHash = auth.HashCredential(params.AuthToken)
	}

	now := time.Now().UTC()
	agent := &store.Agent{
		ID:             uuid.NewString(),
		MachineID:      info.MachineID,
		Hostname:       info.Hostname,
		Platform:       info.Platform,
		Version:        info.Version,
		IP:             info.IP,
		AuthTokenHash:  authTokenHash,
		DefaultChildID: childID,
		RegisteredAt:   now,
		LastHeartbeat:  now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	jwtToken, err := auth.GenerateAgentToken(s.jwtConfig, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	policies, err := s.store.GetPolicies(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	slog.Info("Agent registered",
		"agent_id", agent.ID,
		"machine_id", agent.MachineID,
		"hostname", agent.Hostname,
		"platform", agent.Platform,
		"child_id", childID)

	return &RegisterResult{Agent: agent, Token: jwtToken, ChildID: childID, Policies: policies}, nil
}

// Heartbeat updates liveness and merges the supplied metadata, returning the
// refreshed agent snapshot.
func (s *Service) Heartbeat(ctx context.Context, agentID string, meta store.AgentMetadata) (*store.Agent, error) {
	if err := s.store.UpdateAgentHeartbeat(ctx, agentID, time.Now().UTC(), meta); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("update heartbeat: %w", err)
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return agent, nil
}

// RecordUserSession appends a user-session observation, kept separate from
// heartbeat metadata so session history has its own query cadence.
func (s *Service) RecordUserSession(ctx context.Context, agentID, systemUser string) error {
	if systemUser == "" {
		return fmt.Errorf("%w: system user is required", ErrValidation)
	}
	session := &store.UserSession{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Username:   systemUser,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUserSession(ctx, session); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

func (s *Service) GetAgent(ctx context.Context, agentID string) (*store.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	return agent, err
}

func (s *Service) ListAgents(ctx context.Context) ([]*store.Agent, error) {
	return s.store.ListAgents(ctx)
}

func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	err := s.store.DeleteAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAgentNotFound
	}
	return err
}

// Online reports whether the agent heartbeated within twice the configured
// heartbeat interval.
func (s *Service) Online(agent *store.Agent) bool {
	return time.Since(agent.LastHeartbeat) <= 2*s.heartbeatInterval
}

type PolicyParams struct {
	Type    string
	Name    string
	Config  json.RawMessage
	Enabled *bool
}

func (s *Service) GetPolicies(ctx context.Context, agentID string) ([]*store.Policy, error) {
	return s.store.GetPolicies(ctx, agentID)
}

func (s *Service) CreatePolicy(ctx context.Context, agentID string, params PolicyParams) (*store.Policy, error) {
	if params.Type == "" {
		return nil, fmt.Errorf("%w: policy type is required", ErrValidation)
	}
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}

	config := []byte(params.Config)
	if len(config) == 0 {
		config = []byte("{}")
	}
	enabled := true
	if params.Enabled != nil {
		enabled = *params.Enabled
	}

	now := time.Now().UTC()
	policy := &store.Policy{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Type:      params.Type,
		Name:      params.Name,
		Config:    config,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}

	slog.Info("Policy created", "agent_id", agentID, "policy_id", policy.ID, "type", policy.Type)
	return policy, nil
}

// UpdatePolicy mutates only the supplied fields. The store scopes the update
// to the stated agent, so a cross-agent mutation fails instead of no-opping.
func (s *Service) UpdatePolicy(ctx context.Context, agentID, policyID string, params PolicyParams) (*store.Policy, error) {
	fields := make(map[string]any)
	if params.Type != "" {
		fields["type"] = params.Type
	}
	if params.Name != "" {
		fields["name"] = params.Name
	}
	if len(params.Config) > 0 {
		fields["config"] = []byte(params.Config)
	}
	if params.Enabled != nil {
		fields["enabled"] = *params.Enabled
	}

	policy, err := s.store.UpdatePolicy(ctx, agentID, policyID, fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPolicyNotFound
	}
	return policy, err
}

func (s *Service) DeletePolicy(ctx context.Context, agentID, policyID string) error {
	err := s.store.DeletePolicy(ctx, agentID, policyID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrPolicyNotFound
	}
	return err
}

type ViolationParams struct {
	PolicyID   string
	Type       string
	Details    json.RawMessage
	OccurredAt time.Time
}

// RecordViolation persists the violation and returns its id. Enforcement is
// agent-local or plugin-driven, not decided here.
func (s *Service) RecordViolation(ctx context.Context, agentID string, params ViolationParams) (string, error) {
	if params.Type == "" {
		return "", fmt.Errorf("%w: violation type is required", ErrValidation)
	}
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return "", err
	}

	details := []byte(params.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}
	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	violation := &store.Violation{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		PolicyID:   params.PolicyID,
		Type:       params.Type,
		Details:    details,
		OccurredAt: occurredAt,
		ReportedAt: time.Now().UTC(),
	}
	if err := s.store.CreateViolation(ctx, violation); err != nil {
		return "", fmt.Errorf("record violation: %w", err)
	}

	slog.Info("Violation recorded", "agent_id", agentID, "violation_id", violation.ID, "type", violation.Type)
	return violation.ID, nil
}

func (s *Service) ListViolations(ctx context.Context, agentID string, limit int) ([]*store.Violation, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListViolations(ctx, agentID, limit)
}

// IssuedCredential is a freshly minted bootstrap credential. The raw value
// is returned exactly once; only its hash is stored.
type IssuedCredential struct {
	Credential string
	ExpiresAt  time.Time
}

// GenerateRegistrationCode mints a human-facing code for manual or QR setup.
func (s *Service) GenerateRegistrationCode(ctx context.Context, childID string) (*IssuedCredential, error) {
	code, err := auth.GenerateRegistrationCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	issued, err := s.storeCredential(ctx, code, childID, "", "")
	if err != nil {
		return nil, err
	}
	slog.Info("Registration code issued", "child_id", childID, "expires_at", issued.ExpiresAt)
	return issued, nil
}

// MintBootstrapToken mints the machine-grade secret baked into a downloaded
// installer package.
func (s *Service) MintBootstrapToken(ctx context.Context, childID, platform, version string) (*IssuedCredential, error) {
	token, err := auth.GenerateBootstrapToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	issued, err := s.storeCredential(ctx, token, childID, platform, version)
	if err != nil {
		return nil, err
	}
	slog.Info("Bootstrap token issued", "child_id", childID, "platform", platform, "expires_at", issued.ExpiresAt)
	return issued, nil
}

func (s *Service) storeCredential(ctx context.Context, credential, childID, platform, version string) (*IssuedCredential, error) {
	now := time.Now().UTC()
	record := &store.BootstrapToken{
		ID:        uuid.NewString(),
		TokenHash: auth.HashCredential(credential),
		ChildID:   childID,
		Platform:  platform,
		Version:   version,
		CreatedAt: now,
		ExpiresAt: now.Add(BootstrapTokenTTL),
	}
	if err := s.store.CreateBootstrapToken(ctx, record); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return &IssuedCredential{Credential: credential, ExpiresAt: record.ExpiresAt}, nil
}

// CurrentUser returns the most recent user session, but only while the agent
// is online; a stale agent has no meaningful "current" user.
func (s *Service) CurrentUser(ctx context.Context, agentID string) (*store.UserSession, bool, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	online := s.Online(agent)
	session, err := s.store.GetLatestUserSession(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, online, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !online {
		return nil, false, nil
	}
	return session, true, nil
}

// LastUser returns the most recent user session regardless of liveness.
func (s *Service) LastUser(ctx context.Context, agentID string) (*store.UserSession, error) {
	session, err := s.store.GetLatestUserSession(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

func (s *Service) UserSessionHistory(ctx context.Context, agentID string, limit int) ([]*store.UserSession, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListUserSessions(ctx, agentID, limit)
}
