package tests

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandshake(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, "GET", "/api/agent/handshake", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := parse(rr)
	assert.NotEmpty(t, body["nonce"])
	assert.NotEmpty(t, body["signature"])
	assert.NotEmpty(t, body["fingerprint"])
}

// TestRegistrationFlow walks the manual pairing path end to end against the
// real database: issue a code, redeem it, then prove it cannot be replayed.
func TestRegistrationFlow(t *testing.T, router *gin.Engine) {
	issue := doJSON(router, "POST", "/api/agent/registration-code",
		map[string]any{"childId": "child-sys-1"}, adminHeaders())
	require.Equal(t, http.StatusCreated, issue.Code)
	code, _ := parse(issue)["code"].(string)
	require.NotEmpty(t, code)

	register := doJSON(router, "POST", "/api/agent/register", map[string]any{
		"registrationCode": code,
		"agentInfo": map[string]any{
			"machineId": "sys-machine-1",
			"hostname":  "sys-laptop",
			"platform":  "windows",
			"version":   "1.0.0",
		},
	}, nil)
	require.Equal(t, http.StatusCreated, register.Code)

	body := parse(register)
	assert.Equal(t, "child-sys-1", body["childId"])
	require.NotEmpty(t, body["token"])

	t.Run("code is single use", func(t *testing.T) {
		replay := doJSON(router, "POST", "/api/agent/register", map[string]any{
			"registrationCode": code,
			"agentInfo": map[string]any{
				"machineId": "sys-machine-2",
				"hostname":  "sys-laptop-2",
				"platform":  "windows",
			},
		}, nil)
		assert.Equal(t, http.StatusNotFound, replay.Code)
	})
}

// TestActionDelivery walks a trigger through its full lifecycle over HTTP:
// deploy, trigger, heartbeat delivery, response, terminal state.
func TestActionDelivery(t *testing.T, router *gin.Engine) {
	issue := doJSON(router, "POST", "/api/agent/registration-code",
		map[string]any{"childId": "child-sys-2"}, adminHeaders())
	require.Equal(t, http.StatusCreated, issue.Code)

	register := doJSON(router, "POST", "/api/agent/register", map[string]any{
		"registrationCode": parse(issue)["code"],
		"agentInfo": map[string]any{
			"machineId": "sys-machine-3",
			"hostname":  "sys-desktop",
			"platform":  "macos",
		},
	}, nil)
	require.Equal(t, http.StatusCreated, register.Code)
	regBody := parse(register)
	agentID := regBody["agentId"].(string)
	token := regBody["token"].(string)

	deploy := doJSON(router, "POST", "/api/agents/"+agentID+"/deploy-action", map[string]any{
		"pluginId": "screen-time",
		"actionId": "lock",
		"script":   "lock_screen()",
	}, adminHeaders())
	require.Equal(t, http.StatusOK, deploy.Code)

	trigger := doJSON(router, "POST", "/api/agents/"+agentID+"/trigger-action", map[string]any{
		"pluginId": "screen-time",
		"actionId": "lock",
	}, adminHeaders())
	require.Equal(t, http.StatusCreated, trigger.Code)
	triggerID := parse(trigger)["triggerId"].(string)

	heartbeat := doJSON(router, "POST", "/api/agent/heartbeat", map[string]any{}, bearer(token))
	require.Equal(t, http.StatusOK, heartbeat.Code)
	pending, _ := parse(heartbeat)["pendingActions"].([]any)
	require.Len(t, pending, 1)
	assert.Equal(t, triggerID, pending[0].(map[string]any)["triggerId"])

	t.Run("redelivery does not happen", func(t *testing.T) {
		again := doJSON(router, "POST", "/api/agent/heartbeat", map[string]any{}, bearer(token))
		require.Equal(t, http.StatusOK, again.Code)
		assert.Empty(t, parse(again)["pendingActions"])
	})

	report := doJSON(router, "POST", "/api/agent/plugin-action-responses", map[string]any{
		"responses": []map[string]any{{
			"triggerId":  triggerID,
			"status":     "completed",
			"returnCode": 0,
			"output":     "locked",
		}},
	}, bearer(token))
	require.Equal(t, http.StatusOK, report.Code)
	assert.Equal(t, float64(1), parse(report)["processed"])

	t.Run("duplicate response rejected", func(t *testing.T) {
		dup := doJSON(router, "POST", "/api/agent/plugin-action-responses", map[string]any{
			"responses": []map[string]any{{
				"triggerId": triggerID,
				"status":    "completed",
			}},
		}, bearer(token))
		require.Equal(t, http.StatusOK, dup.Code)
		assert.Equal(t, float64(0), parse(dup)["processed"])
	})
}

// TestInstallerTokenFlow covers silent provisioning: mint a token, present it
// on a first heartbeat, and continue with the upgraded JWT.
func TestInstallerTokenFlow(t *testing.T, router *gin.Engine) {
	mint := doJSON(router, "POST", "/api/agent/pending-token", map[string]any{
		"childId":  "child-sys-3",
		"platform": "windows",
	}, adminHeaders())
	require.Equal(t, http.StatusCreated, mint.Code)
	token := parse(mint)["token"].(string)

	first := doJSON(router, "POST", "/api/agent/heartbeat", map[string]any{}, map[string]string{
		"Authorization": "Bearer " + token,
		"X-Machine-Id":  "sys-machine-4",
		"X-Hostname":    "sys-tablet",
		"X-Platform":    "windows",
	})
	require.Equal(t, http.StatusOK, first.Code)

	jwt := first.Header().Get("X-Agent-Token")
	require.NotEmpty(t, jwt)
	require.NotEmpty(t, first.Header().Get("X-Agent-Id"))

	next := doJSON(router, "POST", "/api/agent/heartbeat", map[string]any{}, bearer(jwt))
	assert.Equal(t, http.StatusOK, next.Code)
}
