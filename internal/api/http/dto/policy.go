package dto

import (
	"encoding/json"
	"time"
)

type CreatePolicyRequest struct {
	Type    string          `json:"type" binding:"required"`
	Name    string          `json:"name"`
	Config  json.RawMessage `json:"config"`
	Enabled *bool           `json:"enabled"`
}

type UpdatePolicyRequest struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Config  json.RawMessage `json:"config"`
	Enabled *bool           `json:"enabled"`
}

type PolicyResponse struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	Config    json.RawMessage `json:"config"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type ListPoliciesResponse struct {
	Policies []PolicyResponse `json:"policies"`
	Count    int              `json:"count"`
}

type ViolationRequest struct {
	Type       string          `json:"type" binding:"required"`
	PolicyID   string          `json:"policyId"`
	Details    json.RawMessage `json:"details"`
	OccurredAt time.Time       `json:"occurredAt"`
}

type ViolationResponse struct {
	Success     bool   `json:"success"`
	ViolationID string `json:"violationId"`
}

type ViolationRecord struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agentId"`
	PolicyID   string          `json:"policyId,omitempty"`
	Type       string          `json:"type"`
	Details    json.RawMessage `json:"details"`
	OccurredAt time.Time       `json:"occurredAt"`
	ReportedAt time.Time       `json:"reportedAt"`
}

type ListViolationsResponse struct {
	Violations []ViolationRecord `json:"violations"`
	Count      int               `json:"count"`
}
