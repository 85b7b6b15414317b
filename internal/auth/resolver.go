package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guardianware/guardian-hub/internal/store"
)

var (
	ErrUnauthorized = errors.New("unauthorized")

	// errNotApplicable signals that a resolver cannot interpret the
	// credential at all and the next resolver in the chain should try.
	errNotApplicable = errors.New("credential not applicable")
)

// AgentInfo carries the request-supplied metadata used when a bootstrap
// credential auto-registers a new agent.
type AgentInfo struct {
	MachineID string
	Hostname  string
	Platform  string
	Version   string
	IP        string
}

// Identity is the authenticated result of credential resolution.
type Identity struct {
	AgentID string
	ChildID string
	// Token is a freshly minted JWT when the request authenticated with a
	// raw credential; the caller returns it so the agent can upgrade.
	Token    string
	NewAgent bool
}

// CredentialResolver resolves one kind of bearer credential. It returns
// errNotApplicable to fall through to the next resolver in the chain.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string, info AgentInfo) (*Identity, error)
}

// Gateway resolves a bearer credential into an agent identity by trying an
// ordered chain of resolvers: JWT verification first (the common, no-I/O
// path), then single-use bootstrap token redemption, then the stored
// auth-token fallback for agents provisioned before JWTs existed.
type Gateway struct {
	resolvers []CredentialResolver
}

func NewGateway(config JWTConfig, st store.Store) *Gateway {
	return &Gateway{
		resolvers: []CredentialResolver{
			&jwtResolver{config: config},
			&bootstrapTokenResolver{config: config, store: st},
			&directTokenResolver{config: config, store: st},
		},
	}
}

// Resolve runs the chain. Any outcome other than "not applicable" is final.
func (g *Gateway) Resolve(ctx context.Context, credential string, info AgentInfo) (*Identity, error) {
	if credential == "" {
		return nil, ErrUnauthorized
	}
	for _, r := range g.resolvers {
		identity, err := r.Resolve(ctx, credential, info)
		if errors.Is(err, errNotApplicable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return identity, nil
	}
	return nil, ErrUnauthorized
}

type jwtResolver struct {
	config JWTConfig
}

func (r *jwtResolver) Resolve(_ context.Context, credential string, _ AgentInfo) (*Identity, error) {
	claims, err := ValidateAgentToken(r.config, credential)
	if err != nil {
		// Raw bootstrap and auth tokens are not JWTs; let the rest of the
		// chain look at the credential.
		return nil, errNotApplicable
	}
	return &Identity{AgentID: claims.AgentID}, nil
}

type bootstrapTokenResolver struct {
	config JWTConfig
	store  store.Store
}

func (r *bootstrapTokenResolver) Resolve(ctx context.Context, credential string, info AgentInfo) (*Identity, error) {
	token, err := r.store.ConsumeBootstrapToken(ctx, HashCredential(credential))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotApplicable
	}
	if errors.Is(err, store.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: bootstrap token expired", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("redeem bootstrap token: %w", err)
	}

	machineID := info.MachineID
	if machineID == "" {
		machineID = "auto-" + token.ID
	}
	platform := info.Platform
	if platform == "" {
		platform = token.Platform
	}
	version := info.Version
	if version == "" {
		version = token.Version
	}

	now := time.Now().UTC()
	agent := &store.Agent{
		ID:             uuid.NewString(),
		MachineID:      machineID,
		Hostname:       info.Hostname,
		Platform:       platform,
		Version:        version,
		IP:             info.IP,
		AuthTokenHash:  HashCredential(credential),
		DefaultChildID: token.ChildID,
		RegisteredAt:   now,
		LastHeartbeat:  now,
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("auto-register agent: %w", err)
	}

	jwtToken, err := GenerateAgentToken(r.config, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	slog.Info("Agent auto-registered from bootstrap token",
		"agent_id", agent.ID,
		"machine_id", agent.MachineID,
		"child_id", agent.DefaultChildID)

	return &Identity{
		AgentID:  agent.ID,
		ChildID:  agent.DefaultChildID,
		Token:    jwtToken,
		NewAgent: true,
	}, nil
}

type directTokenResolver struct {
	config JWTConfig
	store  store.Store
}

func (r *directTokenResolver) Resolve(ctx context.Context, credential string, _ AgentInfo) (*Identity, error) {
	agent, err := r.store.GetAgentByTokenHash(ctx, HashCredential(credential))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotApplicable
	}
	if err != nil {
		return nil, fmt.Errorf("lookup agent token: %w", err)
	}

	jwtToken, err := GenerateAgentToken(r.config, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	slog.Info("Agent upgraded from direct auth token", "agent_id", agent.ID)

	return &Identity{
		AgentID: agent.ID,
		ChildID: agent.DefaultChildID,
		Token:   jwtToken,
	}, nil
}
