package handler

import (
	"encoding/json"

	"github.com/guardianware/guardian-hub/internal/api/http/dto"
	"github.com/guardianware/guardian-hub/internal/store"
)

func toAgentResponse(agent *store.Agent, online bool) dto.AgentResponse {
	return dto.AgentResponse{
		ID:             agent.ID,
		MachineID:      agent.MachineID,
		Hostname:       agent.Hostname,
		Platform:       agent.Platform,
		Version:        agent.Version,
		IP:             agent.IP,
		DefaultChildID: agent.DefaultChildID,
		RegisteredAt:   agent.RegisteredAt,
		LastHeartbeat:  agent.LastHeartbeat,
		Online:         online,
	}
}

func toPolicyResponse(policy *store.Policy) dto.PolicyResponse {
	return dto.PolicyResponse{
		ID:        policy.ID,
		AgentID:   policy.AgentID,
		Type:      policy.Type,
		Name:      policy.Name,
		Config:    json.RawMessage(policy.Config),
		Enabled:   policy.Enabled,
		CreatedAt: policy.CreatedAt,
		UpdatedAt: policy.UpdatedAt,
	}
}

func toPolicyResponses(policies []*store.Policy) []dto.PolicyResponse {
	result := make([]dto.PolicyResponse, len(policies))
	for i, p := range policies {
		result[i] = toPolicyResponse(p)
	}
	return result
}

func toTriggerResponse(trigger *store.Trigger) dto.TriggerResponse {
	return dto.TriggerResponse{
		TriggerID: trigger.ID,
		PluginID:  trigger.PluginID,
		ActionID:  trigger.ActionID,
		Arguments: json.RawMessage(trigger.Arguments),
		State:     string(trigger.State),
		CreatedAt: trigger.CreatedAt,
	}
}

func toTriggerResponses(triggers []*store.Trigger) []dto.TriggerResponse {
	result := make([]dto.TriggerResponse, len(triggers))
	for i, t := range triggers {
		result[i] = toTriggerResponse(t)
	}
	return result
}
