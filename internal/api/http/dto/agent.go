package dto

import "time"

type AgentInfo struct {
	MachineID string `json:"machineId" binding:"required"`
	Hostname  string `json:"hostname" binding:"required"`
	Platform  string `json:"platform" binding:"required"`
	Version   string `json:"version"`
}

type RegisterRequest struct {
	RegistrationCode string    `json:"registrationCode"`
	AuthToken        string    `json:"authToken"`
	AgentInfo        AgentInfo `json:"agentInfo" binding:"required"`
}

type RegisterResponse struct {
	Success  bool             `json:"success"`
	AgentID  string           `json:"agentId"`
	Token    string           `json:"token"`
	ChildID  string           `json:"childId,omitempty"`
	Policies []PolicyResponse `json:"policies"`
}

type AgentResponse struct {
	ID             string    `json:"id"`
	MachineID      string    `json:"machineId"`
	Hostname       string    `json:"hostname"`
	Platform       string    `json:"platform"`
	Version        string    `json:"version"`
	IP             string    `json:"ip,omitempty"`
	DefaultChildID string    `json:"defaultChildId,omitempty"`
	RegisteredAt   time.Time `json:"registeredAt"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	Online         bool      `json:"online"`
}

type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
	Count  int             `json:"count"`
}

type RegistrationCodeRequest struct {
	ChildID string `json:"childId" binding:"required"`
}

type RegistrationCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type BootstrapTokenRequest struct {
	ChildID  string `json:"childId" binding:"required"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

type BootstrapTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
