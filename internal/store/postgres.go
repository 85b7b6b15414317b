package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, machine_id, hostname, platform, version, ip,
			auth_token_hash, default_child_id, registered_at, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		agent.ID, agent.MachineID, agent.Hostname, agent.Platform, agent.Version,
		agent.IP, agent.AuthTokenHash, agent.DefaultChildID, agent.RegisteredAt,
		agent.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

const agentColumns = `id, machine_id, hostname, platform, version, ip,
	auth_token_hash, default_child_id, registered_at, last_heartbeat`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.MachineID, &a.Hostname, &a.Platform, &a.Version,
		&a.IP, &a.AuthTokenHash, &a.DefaultChildID, &a.RegisteredAt, &a.LastHeartbeat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *PostgresStore) GetAgentByTokenHash(ctx context.Context, tokenHash string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE auth_token_hash = $1 AND auth_token_hash <> ''`, tokenHash)
	return scanAgent(row)
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateAgentHeartbeat(ctx context.Context, id string, at time.Time, meta AgentMetadata) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET
			last_heartbeat = $2,
			hostname = COALESCE(NULLIF($3, ''), hostname),
			platform = COALESCE(NULLIF($4, ''), platform),
			version  = COALESCE(NULLIF($5, ''), version),
			ip       = COALESCE(NULLIF($6, ''), ip)
		WHERE id = $1`,
		id, at, meta.Hostname, meta.Platform, meta.Version, meta.IP)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateBootstrapToken(ctx context.Context, token *BootstrapToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bootstrap_tokens (id, token_hash, child_id, platform, version, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		token.ID, token.TokenHash, token.ChildID, token.Platform, token.Version,
		token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert bootstrap token: %w", err)
	}
	return nil
}

// ConsumeBootstrapToken relies on the conditional DELETE RETURNING as the
// atomicity gate: of two concurrent redemptions, only one sees the row.
func (s *PostgresStore) ConsumeBootstrapToken(ctx context.Context, tokenHash string) (*BootstrapToken, error) {
	var t BootstrapToken
	err := s.pool.QueryRow(ctx, `
		DELETE FROM bootstrap_tokens WHERE token_hash = $1
		RETURNING id, token_hash, child_id, platform, version, created_at, expires_at`,
		tokenHash).Scan(&t.ID, &t.TokenHash, &t.ChildID, &t.Platform, &t.Version,
		&t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consume bootstrap token: %w", err)
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &t, nil
}

func (s *PostgresStore) DeleteExpiredBootstrapTokens(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bootstrap_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreatePolicy(ctx context.Context, policy *Policy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO policies (id, agent_id, type, name, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		policy.ID, policy.AgentID, policy.Type, policy.Name, policy.Config,
		policy.Enabled, policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

const policyColumns = `id, agent_id, type, name, config, enabled, created_at, updated_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.AgentID, &p.Type, &p.Name, &p.Config, &p.Enabled,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetPolicies(ctx context.Context, agentID string) ([]*Policy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE agent_id = $1 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var result []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// UpdatePolicy applies the provided fields. The agent_id predicate makes a
// cross-agent mutation fail with ErrNotFound rather than silently no-op.
func (s *PostgresStore) UpdatePolicy(ctx context.Context, agentID, policyID string, fields map[string]any) (*Policy, error) {
	set := "updated_at = $3"
	args := []any{policyID, agentID, time.Now().UTC()}
	for _, col := range []string{"type", "name", "config", "enabled"} {
		if v, ok := fields[col]; ok {
			args = append(args, v)
			set += fmt.Sprintf(", %s = $%d", col, len(args))
		}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE policies SET `+set+`
		WHERE id = $1 AND agent_id = $2
		RETURNING `+policyColumns, args...)
	return scanPolicy(row)
}

func (s *PostgresStore) DeletePolicy(ctx context.Context, agentID, policyID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1 AND agent_id = $2`, policyID, agentID)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateViolation(ctx context.Context, violation *Violation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO violations (id, agent_id, policy_id, type, details, occurred_at, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		violation.ID, violation.AgentID, violation.PolicyID, violation.Type,
		violation.Details, violation.OccurredAt, violation.ReportedAt)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListViolations(ctx context.Context, agentID string, limit int) ([]*Violation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, policy_id, type, details, occurred_at, reported_at
		FROM violations WHERE agent_id = $1
		ORDER BY reported_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var result []*Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.ID, &v.AgentID, &v.PolicyID, &v.Type, &v.Details,
			&v.OccurredAt, &v.ReportedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateUserSession(ctx context.Context, session *UserSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_sessions (id, agent_id, username, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		session.ID, session.AgentID, session.Username, session.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert user session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestUserSession(ctx context.Context, agentID string) (*UserSession, error) {
	var u UserSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, username, recorded_at FROM user_sessions
		WHERE agent_id = $1 ORDER BY recorded_at DESC LIMIT 1`, agentID).
		Scan(&u.ID, &u.AgentID, &u.Username, &u.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest session: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUserSessions(ctx context.Context, agentID string, limit int) ([]*UserSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, username, recorded_at FROM user_sessions
		WHERE agent_id = $1 ORDER BY recorded_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*UserSession
	for rows.Next() {
		var u UserSession
		if err := rows.Scan(&u.ID, &u.AgentID, &u.Username, &u.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertMonitor(ctx context.Context, monitor *Monitor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitors (agent_id, plugin_id, monitor_id, script, platforms, interval_seconds, deployed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (agent_id, plugin_id, monitor_id) DO UPDATE SET
			script = EXCLUDED.script,
			platforms = EXCLUDED.platforms,
			interval_seconds = EXCLUDED.interval_seconds,
			updated_at = EXCLUDED.updated_at`,
		monitor.AgentID, monitor.PluginID, monitor.MonitorID, monitor.Script,
		monitor.Platforms, monitor.Interval, monitor.DeployedAt)
	if err != nil {
		return fmt.Errorf("upsert monitor: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertAction(ctx context.Context, action *Action) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO actions (agent_id, plugin_id, action_id, script, platforms, deployed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (agent_id, plugin_id, action_id) DO UPDATE SET
			script = EXCLUDED.script,
			platforms = EXCLUDED.platforms,
			updated_at = EXCLUDED.updated_at`,
		action.AgentID, action.PluginID, action.ActionID, action.Script,
		action.Platforms, action.DeployedAt)
	if err != nil {
		return fmt.Errorf("upsert action: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAction(ctx context.Context, agentID, pluginID, actionID string) (*Action, error) {
	var a Action
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, plugin_id, action_id, script, platforms, deployed_at, updated_at
		FROM actions WHERE agent_id = $1 AND plugin_id = $2 AND action_id = $3`,
		agentID, pluginID, actionID).
		Scan(&a.AgentID, &a.PluginID, &a.ActionID, &a.Script, &a.Platforms,
			&a.DeployedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListMonitors(ctx context.Context, agentID string) ([]*Monitor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, plugin_id, monitor_id, script, platforms, interval_seconds, deployed_at, updated_at
		FROM monitors WHERE agent_id = $1 ORDER BY plugin_id, monitor_id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var result []*Monitor
	for rows.Next() {
		var m Monitor
		if err := rows.Scan(&m.AgentID, &m.PluginID, &m.MonitorID, &m.Script,
			&m.Platforms, &m.Interval, &m.DeployedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListActions(ctx context.Context, agentID string) ([]*Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, plugin_id, action_id, script, platforms, deployed_at, updated_at
		FROM actions WHERE agent_id = $1 ORDER BY plugin_id, action_id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var result []*Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.AgentID, &a.PluginID, &a.ActionID, &a.Script,
			&a.Platforms, &a.DeployedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateTrigger(ctx context.Context, trigger *Trigger) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO triggers (id, agent_id, plugin_id, action_id, arguments, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		trigger.ID, trigger.AgentID, trigger.PluginID, trigger.ActionID,
		trigger.Arguments, string(trigger.State), trigger.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

const triggerColumns = `id, agent_id, plugin_id, action_id, arguments, state,
	created_at, delivered_at, completed_at, return_code, output, error, executed_at`

func scanTrigger(row pgx.Row) (*Trigger, error) {
	var t Trigger
	var state string
	var returnCode *int
	var output, errMsg string
	var executedAt *time.Time
	err := row.Scan(&t.ID, &t.AgentID, &t.PluginID, &t.ActionID, &t.Arguments,
		&state, &t.CreatedAt, &t.DeliveredAt, &t.CompletedAt,
		&returnCode, &output, &errMsg, &executedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan trigger: %w", err)
	}
	t.State = TriggerState(state)
	if t.State.Terminal() {
		t.Result = &TriggerResult{Output: output, Error: errMsg}
		if returnCode != nil {
			t.Result.ReturnCode = *returnCode
		}
		if executedAt != nil {
			t.Result.ExecutedAt = *executedAt
		}
	}
	return &t, nil
}

func (s *PostgresStore) GetTrigger(ctx context.Context, triggerID string) (*Trigger, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = $1`, triggerID)
	return scanTrigger(row)
}

func (s *PostgresStore) ListTriggers(ctx context.Context, agentID string, states []TriggerState) ([]*Trigger, error) {
	stateStrs := make([]string, len(states))
	for i, st := range states {
		stateStrs[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+triggerColumns+` FROM triggers
		WHERE agent_id = $1 AND state = ANY($2)
		ORDER BY created_at`, agentID, stateStrs)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()
	return collectTriggers(rows)
}

func collectTriggers(rows pgx.Rows) ([]*Trigger, error) {
	var result []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ClaimQueuedTriggers uses a single UPDATE over the queued set so two
// near-simultaneous heartbeats cannot both claim the same trigger.
func (s *PostgresStore) ClaimQueuedTriggers(ctx context.Context, agentID string, at time.Time) ([]*Trigger, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE triggers SET state = 'delivered', delivered_at = $2
		WHERE agent_id = $1 AND state = 'queued'
		RETURNING `+triggerColumns, agentID, at)
	if err != nil {
		return nil, fmt.Errorf("claim triggers: %w", err)
	}
	defer rows.Close()
	return collectTriggers(rows)
}

func (s *PostgresStore) MarkTriggersDelivered(ctx context.Context, agentID string, triggerIDs []string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triggers SET state = 'delivered', delivered_at = $3
		WHERE agent_id = $1 AND id = ANY($2) AND state = 'queued'`,
		agentID, triggerIDs, at)
	if err != nil {
		return fmt.Errorf("mark triggers delivered: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteTrigger(ctx context.Context, agentID, triggerID string, state TriggerState, result *TriggerResult) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, state)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE triggers SET state = $3, completed_at = now(),
			return_code = $4, output = $5, error = $6, executed_at = $7
		WHERE id = $1 AND agent_id = $2 AND state = 'delivered'`,
		triggerID, agentID, string(state), result.ReturnCode, result.Output,
		result.Error, result.ExecutedAt)
	if err != nil {
		return fmt.Errorf("complete trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish an unknown trigger from a guarded transition.
		var current string
		err := s.pool.QueryRow(ctx, `SELECT state FROM triggers WHERE id = $1 AND agent_id = $2`,
			triggerID, agentID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check trigger state: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}
	return nil
}

func (s *PostgresStore) ExpireStaleTriggers(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE triggers SET state = 'failed', completed_at = now(), error = 'trigger expired'
		WHERE state IN ('queued', 'delivered') AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire triggers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertPluginData(ctx context.Context, record *PluginDataRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plugin_data (id, agent_id, plugin_id, monitor_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.AgentID, record.PluginID, record.MonitorID,
		record.Payload, record.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert plugin data: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecentPluginData(ctx context.Context, agentID, pluginID string, limit int) ([]*PluginDataRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, plugin_id, monitor_id, payload, received_at
		FROM plugin_data WHERE agent_id = $1 AND plugin_id = $2
		ORDER BY received_at DESC LIMIT $3`, agentID, pluginID, limit)
	if err != nil {
		return nil, fmt.Errorf("list plugin data: %w", err)
	}
	defer rows.Close()

	var result []*PluginDataRecord
	for rows.Next() {
		var r PluginDataRecord
		if err := rows.Scan(&r.ID, &r.AgentID, &r.PluginID, &r.MonitorID,
			&r.Payload, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan plugin data: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
