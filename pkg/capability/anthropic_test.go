package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicTextGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "Leaves drift and fall"}},
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	p := NewAnthropic("sk-ant-test", srv.URL, "claude-sonnet-4", option.WithMaxRetries(0))
	assert.Equal(t, "anthropic", p.Provider())

	out, err := p.TextGenerate(context.Background(), []Message{
		{Role: RoleSystem, Content: "you are a poet"},
		{Role: RoleUser, Content: "Write a haiku about autumn"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Leaves drift and fall", out)

	assert.Equal(t, "claude-sonnet-4", body["model"])
	assert.Len(t, body["messages"], 1)
	assert.NotNil(t, body["system"])
}
