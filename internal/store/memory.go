package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and ephemeral dev mode.
type MemoryStore struct {
	mu         sync.Mutex
	agents     map[string]*Agent
	tokens     map[string]*BootstrapToken // keyed by token hash
	policies   map[string]*Policy
	violations []*Violation
	sessions   []*UserSession
	monitors   map[string]*Monitor // keyed by agent/plugin/monitor
	actions    map[string]*Action
	triggers   map[string]*Trigger
	pluginData []*PluginDataRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]*Agent),
		tokens:   make(map[string]*BootstrapToken),
		policies: make(map[string]*Policy),
		monitors: make(map[string]*Monitor),
		actions:  make(map[string]*Action),
		triggers: make(map[string]*Trigger),
	}
}

func (s *MemoryStore) Close() {}

func deployKey(agentID, pluginID, id string) string {
	return agentID + "/" + pluginID + "/" + id
}

func (s *MemoryStore) CreateAgent(_ context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAgentByTokenHash(_ context.Context, tokenHash string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokenHash == "" {
		return nil, ErrNotFound
	}
	for _, a := range s.agents {
		if a.AuthTokenHash == tokenHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RegisteredAt.Before(result[j].RegisteredAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateAgentHeartbeat(_ context.Context, id string, at time.Time, meta AgentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.LastHeartbeat = at
	if meta.Hostname != "" {
		a.Hostname = meta.Hostname
	}
	if meta.Platform != "" {
		a.Platform = meta.Platform
	}
	if meta.Version != "" {
		a.Version = meta.Version
	}
	if meta.IP != "" {
		a.IP = meta.IP
	}
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) CreateBootstrapToken(_ context.Context, token *BootstrapToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) ConsumeBootstrapToken(_ context.Context, tokenHash string) (*BootstrapToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.tokens, tokenHash)
	if time.Now().After(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) DeleteExpiredBootstrapTokens(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for hash, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, hash)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) CreatePolicy(_ context.Context, policy *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *policy
	s.policies[policy.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPolicies(_ context.Context, agentID string) ([]*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Policy
	for _, p := range s.policies {
		if p.AgentID == agentID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdatePolicy(_ context.Context, agentID, policyID string, fields map[string]any) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyID]
	if !ok || p.AgentID != agentID {
		return nil, ErrNotFound
	}
	if v, ok := fields["type"]; ok {
		p.Type = v.(string)
	}
	if v, ok := fields["name"]; ok {
		p.Name = v.(string)
	}
	if v, ok := fields["config"]; ok {
		p.Config = v.([]byte)
	}
	if v, ok := fields["enabled"]; ok {
		p.Enabled = v.(bool)
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePolicy(_ context.Context, agentID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyID]
	if !ok || p.AgentID != agentID {
		return ErrNotFound
	}
	delete(s.policies, policyID)
	return nil
}

func (s *MemoryStore) CreateViolation(_ context.Context, violation *Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *violation
	s.violations = append(s.violations, &cp)
	return nil
}

func (s *MemoryStore) ListViolations(_ context.Context, agentID string, limit int) ([]*Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Violation
	for i := len(s.violations) - 1; i >= 0 && len(result) < limit; i-- {
		if s.violations[i].AgentID == agentID {
			cp := *s.violations[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateUserSession(_ context.Context, session *UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions = append(s.sessions, &cp)
	return nil
}

func (s *MemoryStore) GetLatestUserSession(_ context.Context, agentID string) (*UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *UserSession
	for _, sess := range s.sessions {
		if sess.AgentID != agentID {
			continue
		}
		if latest == nil || sess.RecordedAt.After(latest.RecordedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) ListUserSessions(_ context.Context, agentID string, limit int) ([]*UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*UserSession
	for _, sess := range s.sessions {
		if sess.AgentID == agentID {
			cp := *sess
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordedAt.After(result[j].RecordedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) UpsertMonitor(_ context.Context, monitor *Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deployKey(monitor.AgentID, monitor.PluginID, monitor.MonitorID)
	cp := *monitor
	if existing, ok := s.monitors[key]; ok {
		cp.DeployedAt = existing.DeployedAt
	}
	cp.UpdatedAt = monitor.DeployedAt
	s.monitors[key] = &cp
	return nil
}

func (s *MemoryStore) UpsertAction(_ context.Context, action *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deployKey(action.AgentID, action.PluginID, action.ActionID)
	cp := *action
	if existing, ok := s.actions[key]; ok {
		cp.DeployedAt = existing.DeployedAt
	}
	cp.UpdatedAt = action.DeployedAt
	s.actions[key] = &cp
	return nil
}

func (s *MemoryStore) GetAction(_ context.Context, agentID, pluginID, actionID string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[deployKey(agentID, pluginID, actionID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListMonitors(_ context.Context, agentID string) ([]*Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Monitor
	for _, m := range s.monitors {
		if m.AgentID == agentID {
			cp := *m
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PluginID != result[j].PluginID {
			return result[i].PluginID < result[j].PluginID
		}
		return result[i].MonitorID < result[j].MonitorID
	})
	return result, nil
}

func (s *MemoryStore) ListActions(_ context.Context, agentID string) ([]*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Action
	for _, a := range s.actions {
		if a.AgentID == agentID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PluginID != result[j].PluginID {
			return result[i].PluginID < result[j].PluginID
		}
		return result[i].ActionID < result[j].ActionID
	})
	return result, nil
}

func (s *MemoryStore) CreateTrigger(_ context.Context, trigger *Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trigger
	s.triggers[trigger.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrigger(_ context.Context, triggerID string) (*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[triggerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTriggers(_ context.Context, agentID string, states []TriggerState) ([]*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Trigger
	for _, t := range s.triggers {
		if t.AgentID != agentID {
			continue
		}
		for _, st := range states {
			if t.State == st {
				cp := *t
				result = append(result, &cp)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ClaimQueuedTriggers(_ context.Context, agentID string, at time.Time) ([]*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Trigger
	for _, t := range s.triggers {
		if t.AgentID == agentID && t.State == TriggerQueued {
			t.State = TriggerDelivered
			deliveredAt := at
			t.DeliveredAt = &deliveredAt
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkTriggersDelivered(_ context.Context, agentID string, triggerIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range triggerIDs {
		t, ok := s.triggers[id]
		if !ok || t.AgentID != agentID || t.State != TriggerQueued {
			continue
		}
		t.State = TriggerDelivered
		deliveredAt := at
		t.DeliveredAt = &deliveredAt
	}
	return nil
}

func (s *MemoryStore) CompleteTrigger(_ context.Context, agentID, triggerID string, state TriggerState, result *TriggerResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !state.Terminal() {
		return ErrInvalidTransition
	}
	t, ok := s.triggers[triggerID]
	if !ok || t.AgentID != agentID {
		return ErrNotFound
	}
	if !ValidTransition(t.State, state) || t.State != TriggerDelivered {
		return ErrInvalidTransition
	}
	t.State = state
	now := time.Now().UTC()
	t.CompletedAt = &now
	cp := *result
	t.Result = &cp
	return nil
}

func (s *MemoryStore) ExpireStaleTriggers(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	now := time.Now().UTC()
	for _, t := range s.triggers {
		if t.State.Terminal() || !t.CreatedAt.Before(cutoff) {
			continue
		}
		t.State = TriggerFailed
		t.CompletedAt = &now
		t.Result = &TriggerResult{Error: "trigger expired"}
		expired++
	}
	return expired, nil
}

func (s *MemoryStore) InsertPluginData(_ context.Context, record *PluginDataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.pluginData = append(s.pluginData, &cp)
	return nil
}

func (s *MemoryStore) ListRecentPluginData(_ context.Context, agentID, pluginID string, limit int) ([]*PluginDataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*PluginDataRecord
	for i := len(s.pluginData) - 1; i >= 0 && len(result) < limit; i-- {
		r := s.pluginData[i]
		if r.AgentID == agentID && r.PluginID == pluginID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}
