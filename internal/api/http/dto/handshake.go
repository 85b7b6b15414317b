package dto

import "time"

type HandshakeResponse struct {
	Nonce       string `json:"nonce"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
	Version     string `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

type UserSessionResponse struct {
	Username   string    `json:"username"`
	RecordedAt time.Time `json:"recordedAt"`
}

type CurrentUserResponse struct {
	Online bool                 `json:"online"`
	User   *UserSessionResponse `json:"user"`
}

type SessionHistoryResponse struct {
	Sessions []UserSessionResponse `json:"sessions"`
	Count    int                   `json:"count"`
}
