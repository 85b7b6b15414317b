package dto

import (
	"encoding/json"
	"time"

	"github.com/guardianware/guardian-hub/internal/plugins"
)

type DeployMonitorRequest struct {
	PluginID  string   `json:"pluginId" binding:"required"`
	MonitorID string   `json:"monitorId" binding:"required"`
	Script    string   `json:"script" binding:"required"`
	Platforms []string `json:"platforms"`
	Interval  int      `json:"interval"`
}

type DeployActionRequest struct {
	PluginID  string   `json:"pluginId" binding:"required"`
	ActionID  string   `json:"actionId" binding:"required"`
	Script    string   `json:"script" binding:"required"`
	Platforms []string `json:"platforms"`
}

type DeployResponse struct {
	Success bool `json:"success"`
}

type TriggerActionRequest struct {
	PluginID  string          `json:"pluginId" binding:"required"`
	ActionID  string          `json:"actionId" binding:"required"`
	Arguments json.RawMessage `json:"arguments"`
}

type TriggerActionResponse struct {
	TriggerID string `json:"triggerId"`
}

type TriggerResponse struct {
	TriggerID string          `json:"triggerId"`
	PluginID  string          `json:"pluginId"`
	ActionID  string          `json:"actionId"`
	Arguments json.RawMessage `json:"arguments"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ActionResponseItem struct {
	TriggerID  string    `json:"triggerId"`
	Status     string    `json:"status"`
	ReturnCode int       `json:"returnCode"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
	ExecutedAt time.Time `json:"executedAt"`
}

type ActionResponsesRequest struct {
	Responses []ActionResponseItem `json:"responses" binding:"required"`
}

type PluginDataRequest struct {
	PluginData map[string]map[string][]json.RawMessage `json:"pluginData" binding:"required"`
}

type BatchResult struct {
	Processed int                  `json:"processed"`
	Errors    []plugins.BatchError `json:"errors,omitempty"`
}

type MonitorResponse struct {
	PluginID   string    `json:"pluginId"`
	MonitorID  string    `json:"monitorId"`
	Script     string    `json:"script"`
	Platforms  []string  `json:"platforms"`
	Interval   int       `json:"interval"`
	DeployedAt time.Time `json:"deployedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type ActionDeploymentResponse struct {
	PluginID   string    `json:"pluginId"`
	ActionID   string    `json:"actionId"`
	Script     string    `json:"script"`
	Platforms  []string  `json:"platforms"`
	DeployedAt time.Time `json:"deployedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type DeploymentStatusResponse struct {
	Monitors        []MonitorResponse          `json:"monitors"`
	Actions         []ActionDeploymentResponse `json:"actions"`
	PendingTriggers []TriggerResponse          `json:"pendingTriggers"`
}

type PluginDataRecordResponse struct {
	ID         string          `json:"id"`
	PluginID   string          `json:"pluginId"`
	MonitorID  string          `json:"monitorId"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

type RecentPluginDataResponse struct {
	Records []PluginDataRecordResponse `json:"records"`
	Count   int                        `json:"count"`
}
