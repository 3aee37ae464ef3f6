package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/mosaic/internal/config"
	"github.com/harun/mosaic/pkg/conversation"
	"github.com/harun/mosaic/pkg/server"
)

var serverURL string

// apiClient talks to a running router over its HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is the JSON body the router sends with non-2xx responses.
type apiError struct {
	Status int
	Msg    string `json:"error"`
	Kind   string `json:"kind"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Kind, e.Msg)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Msg)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// SendMessage posts one chat message. An empty sessionID lets the server mint one.
func (c *apiClient) SendMessage(ctx context.Context, sessionID, text string) (conversation.Reply, error) {
	body := server.MessageRequest{Text: text}
	if sessionID != "" {
		body.SessionID = &sessionID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return conversation.Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/message", bytes.NewReader(data))
	if err != nil {
		return conversation.Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var reply conversation.Reply
	if err := c.do(req, &reply); err != nil {
		return conversation.Reply{}, err
	}
	return reply, nil
}

// Transcribe uploads an audio file as multipart field "file".
func (c *apiClient) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out server.TranscribeResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// healthReport mirrors the /health body.
type healthReport struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// Health calls /health.
func (c *apiClient) Health(ctx context.Context) (healthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return healthReport{}, err
	}
	var h healthReport
	if err := c.do(req, &h); err != nil {
		return healthReport{}, err
	}
	return h, nil
}

// resolveServerURL prefers --server, then the configured listen address.
func resolveServerURL() (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return "http://" + cfg.Server.Addr(), nil
}
