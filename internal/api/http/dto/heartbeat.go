package dto

type HeartbeatMetadata struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

type UserContext struct {
	SystemUser string `json:"systemUser"`
}

type HeartbeatRequest struct {
	Metadata    *HeartbeatMetadata `json:"metadata"`
	UserContext *UserContext       `json:"userContext"`
}

type HeartbeatResponse struct {
	Success        bool              `json:"success"`
	DefaultChild   string            `json:"defaultChild,omitempty"`
	PendingActions []TriggerResponse `json:"pendingActions"`
}
