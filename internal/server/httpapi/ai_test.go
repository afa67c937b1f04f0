package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/proxy"
	"github.com/dmitrijs2005/gophgate/internal/server/ratelimit"
)

const completionBody = `{"messages":[{"role":"user","content":"hi"}],"system":"be brief"}`

func TestCompletion_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.ai.res = &proxy.Completion{
		ID:         "msg_1",
		StopReason: "end_turn",
		Usage:      proxy.Usage{InputTokens: 3, OutputTokens: 5},
		Raw:        json.RawMessage(`{"id":"msg_1","content":[{"type":"text","text":"hello"}]}`),
	}

	res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	require.Equal(t, http.StatusOK, res.code, res.raw)

	assert.Equal(t, true, res.body["success"])
	assert.Equal(t, "msg_1", res.body["data"].(map[string]any)["id"])
	require.NotNil(t, ts.ai.got)
	assert.Len(t, ts.ai.got.Messages, 1)

	call, ok := ts.sink.find(ActionAICall)
	require.True(t, ok)
	assert.Equal(t, "u2", call.UserID)
	assert.Equal(t, proxy.DefaultMaxTokens, call.Details["maxTokens"])
	assert.Equal(t, true, call.Details["hasSystem"])

	done, ok := ts.sink.find(ActionAISuccess)
	require.True(t, ok)
	assert.Equal(t, "msg_1", done.ResourceID)
	assert.Equal(t, 5, done.Details["outputTokens"])
}

func TestCompletion_Validation(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{`{}`, `{"messages":"hi"}`, `{"messages":[]}`} {
		res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", body)
		assert.Equal(t, http.StatusBadRequest, res.code, body)
		assert.Equal(t, "Messages array required", res.body["error"], body)
	}
	assert.Nil(t, ts.ai.got)
}

func TestCompletion_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodPost, "/api/ai/completion", "", completionBody)
	assert.Equal(t, http.StatusUnauthorized, res.code)
}

func TestCompletion_UpstreamError(t *testing.T) {
	ts := newTestServer(t)
	ts.ai.err = &proxy.UpstreamError{Status: 529, Message: "Overloaded", Details: json.RawMessage(`{"error":{"message":"Overloaded"}}`)}

	res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	assert.Equal(t, 529, res.code)
	assert.Equal(t, "Overloaded", res.body["error"])
	assert.NotNil(t, res.body["details"])

	entry, ok := ts.sink.find(ActionAIError)
	require.True(t, ok)
	assert.Equal(t, common.StatusError, entry.Status)
}

func TestCompletion_Unavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.ai.err = proxy.ErrUpstreamUnavailable

	res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	assert.Equal(t, http.StatusBadGateway, res.code)
	assert.Equal(t, "upstream_unavailable", res.body["code"])
}

func TestCompletion_ResponseTooLarge(t *testing.T) {
	ts := newTestServer(t)
	ts.ai.err = fmt.Errorf("%w: more than 10 bytes", proxy.ErrResponseTooLarge)

	res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	assert.Equal(t, http.StatusBadGateway, res.code)
	assert.Equal(t, "upstream_response_too_large", res.body["code"])
	assert.Equal(t, "AI response too large", res.body["error"])
}

func TestCompletion_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	ts.ai.configured = false

	res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	assert.Equal(t, http.StatusServiceUnavailable, res.code)
	assert.Nil(t, ts.ai.got)
}

func TestCompletion_RateLimitedPerUser(t *testing.T) {
	ts := newTestServer(t, func(_ *config.Config, d *Dependencies) {
		d.Limiters.AI = ratelimit.NewMemoryLimiter(ratelimit.Rule{Name: "ai", Limit: 1, Window: time.Hour})
	})
	ts.ai.res = &proxy.Completion{Raw: json.RawMessage(`{}`)}

	res := ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	require.Equal(t, http.StatusOK, res.code)

	res = ts.do(t, http.MethodPost, "/api/ai/completion", "user-token", completionBody)
	assert.Equal(t, http.StatusTooManyRequests, res.code)
	assert.Equal(t, "AI request limit reached. Please try again in an hour.", res.body["error"])

	// same IP, different user
	res = ts.do(t, http.MethodPost, "/api/ai/completion", "admin-token", completionBody)
	assert.Equal(t, http.StatusOK, res.code)
}

func TestAIHealth(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodGet, "/api/ai/health", "", "")
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "healthy", res.body["status"])
	assert.Equal(t, true, res.body["configured"])
}
