package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/guardianware/guardian-hub/internal/auth"
	"github.com/guardianware/guardian-hub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = auth.JWTConfig{Secret: "test-secret", Issuer: "guardian-hub"}

func newTestService() (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewService(st, testJWT, Config{HeartbeatInterval: 100 * time.Millisecond}), st
}

func validInfo() auth.AgentInfo {
	return auth.AgentInfo{
		MachineID: "machine-1",
		Hostname:  "kids-laptop",
		Platform:  "windows",
		Version:   "1.0.0",
		IP:        "192.168.1.20",
	}
}

func TestRegister_WithRegistrationCode(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	issued, err := service.GenerateRegistrationCode(ctx, "child-1")
	require.NoError(t, err)

	result, err := service.Register(ctx, RegisterParams{
		RegistrationCode: issued.Credential,
		Info:             validInfo(),
	})
	require.NoError(t, err)
	assert.Equal(t, "child-1", result.ChildID)
	assert.Equal(t, "child-1", result.Agent.DefaultChildID)
	assert.Empty(t, result.Policies)

	claims, err := auth.ValidateAgentToken(testJWT, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.Agent.ID, claims.AgentID)
}

func TestRegister_CodeIsSingleUse(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	issued, err := service.GenerateRegistrationCode(ctx, "child-1")
	require.NoError(t, err)

	_, err = service.Register(ctx, RegisterParams{RegistrationCode: issued.Credential, Info: validInfo()})
	require.NoError(t, err)

	_, err = service.Register(ctx, RegisterParams{RegistrationCode: issued.Credential, Info: validInfo()})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestRegister_CodeNormalisation(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	issued, err := service.GenerateRegistrationCode(ctx, "child-1")
	require.NoError(t, err)

	// Lowercase with the dash dropped still redeems.
	typed := " " + strings.ToLower(strings.ReplaceAll(issued.Credential, "-", "")) + " "
	result, err := service.Register(ctx, RegisterParams{
		RegistrationCode: typed,
		Info:             validInfo(),
	})
	require.NoError(t, err)
	assert.Equal(t, "child-1", result.ChildID)
}

func TestRegister_UnknownCode(t *testing.T) {
	service, _ := newTestService()

	_, err := service.Register(context.Background(), RegisterParams{
		RegistrationCode: "ZZZZ-ZZZZ",
		Info:             validInfo(),
	})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestRegister_ExpiredToken(t *testing.T) {
	service, st := newTestService()
	ctx := context.Background()

	token, err := auth.GenerateBootstrapToken()
	require.NoError(t, err)
	require.NoError(t, st.CreateBootstrapToken(ctx, &store.BootstrapToken{
		ID:        "t1",
		TokenHash: auth.HashCredential(token),
		ChildID:   "child-1",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	_, err = service.Register(ctx, RegisterParams{AuthToken: token, Info: validInfo()})
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestRegister_ValidatesAgentInfo(t *testing.T) {
	service, _ := newTestService()

	info := validInfo()
	info.MachineID = ""
	_, err := service.Register(context.Background(), RegisterParams{Info: info})
	assert.ErrorIs(t, err, ErrValidation)

	info = validInfo()
	info.Platform = ""
	_, err = service.Register(context.Background(), RegisterParams{Info: info})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegister_WithoutCredential(t *testing.T) {
	service, _ := newTestService()

	// Open registration: no credential means no child association.
	result, err := service.Register(context.Background(), RegisterParams{Info: validInfo()})
	require.NoError(t, err)
	assert.Empty(t, result.ChildID)
	assert.NotEmpty(t, result.Token)
}

func TestHeartbeat_UpdatesLiveness(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)

	agent, err := service.Heartbeat(ctx, registered.Agent.ID, store.AgentMetadata{Version: "1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", agent.Version)
	assert.True(t, service.Online(agent))

	_, err = service.Heartbeat(ctx, "missing", store.AgentMetadata{})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestOnline_StaleAgent(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)

	agent, err := service.GetAgent(ctx, registered.Agent.ID)
	require.NoError(t, err)
	assert.True(t, service.Online(agent))

	// Online means a heartbeat within twice the interval.
	agent.LastHeartbeat = time.Now().UTC().Add(-time.Second)
	assert.False(t, service.Online(agent))
}

func TestPolicyLifecycle(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)
	agentID := registered.Agent.ID

	policy, err := service.CreatePolicy(ctx, agentID, PolicyParams{
		Type:   "screen-time",
		Name:   "School nights",
		Config: []byte(`{"limit":120}`),
	})
	require.NoError(t, err)
	assert.True(t, policy.Enabled)

	disabled := false
	updated, err := service.UpdatePolicy(ctx, agentID, policy.ID, PolicyParams{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	// Untouched fields survive the patch.
	assert.Equal(t, "screen-time", updated.Type)
	assert.Equal(t, []byte(`{"limit":120}`), updated.Config)

	policies, err := service.GetPolicies(ctx, agentID)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	require.NoError(t, service.DeletePolicy(ctx, agentID, policy.ID))
	err = service.DeletePolicy(ctx, agentID, policy.ID)
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestUpdatePolicy_ScopedToAgent(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)

	policy, err := service.CreatePolicy(ctx, registered.Agent.ID, PolicyParams{Type: "web-filter"})
	require.NoError(t, err)

	_, err = service.UpdatePolicy(ctx, "other-agent", policy.ID, PolicyParams{Name: "x"})
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestCreatePolicy_Validation(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)

	_, err = service.CreatePolicy(ctx, registered.Agent.ID, PolicyParams{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = service.CreatePolicy(ctx, "missing", PolicyParams{Type: "web-filter"})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRecordViolation(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)
	agentID := registered.Agent.ID

	id, err := service.RecordViolation(ctx, agentID, ViolationParams{
		Type:    "blocked-site",
		Details: []byte(`{"url":"example.com"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	violations, err := service.ListViolations(ctx, agentID, 0)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "blocked-site", violations[0].Type)
	assert.False(t, violations[0].OccurredAt.IsZero())

	_, err = service.RecordViolation(ctx, agentID, ViolationParams{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCurrentUser_OnlineOnly(t *testing.T) {
	service, st := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)
	agentID := registered.Agent.ID

	// No session recorded yet.
	session, online, err := service.CurrentUser(ctx, agentID)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Nil(t, session)

	require.NoError(t, service.RecordUserSession(ctx, agentID, "timmy"))

	session, online, err = service.CurrentUser(ctx, agentID)
	require.NoError(t, err)
	assert.True(t, online)
	require.NotNil(t, session)
	assert.Equal(t, "timmy", session.Username)

	// Once the agent goes stale the "current" user disappears but the last
	// user is still answerable.
	require.NoError(t, st.UpdateAgentHeartbeat(ctx, agentID, time.Now().UTC().Add(-time.Hour), store.AgentMetadata{}))

	session, online, err = service.CurrentUser(ctx, agentID)
	require.NoError(t, err)
	assert.False(t, online)
	assert.Nil(t, session)

	last, err := service.LastUser(ctx, agentID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "timmy", last.Username)
}

func TestUserSessionHistory(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	registered, err := service.Register(ctx, RegisterParams{Info: validInfo()})
	require.NoError(t, err)
	agentID := registered.Agent.ID

	require.NoError(t, service.RecordUserSession(ctx, agentID, "timmy"))
	require.NoError(t, service.RecordUserSession(ctx, agentID, "sally"))

	sessions, err := service.UserSessionHistory(ctx, agentID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	err = service.RecordUserSession(ctx, agentID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMintBootstrapToken(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	issued, err := service.MintBootstrapToken(ctx, "child-1", "windows", "1.0.0")
	require.NoError(t, err)
	assert.Contains(t, issued.Credential, "gt_")
	assert.True(t, issued.ExpiresAt.After(time.Now()))

	// The token registers an agent bound to the child it was minted for.
	result, err := service.Register(ctx, RegisterParams{AuthToken: issued.Credential, Info: validInfo()})
	require.NoError(t, err)
	assert.Equal(t, "child-1", result.ChildID)
	assert.NotEmpty(t, result.Agent.AuthTokenHash)
}
