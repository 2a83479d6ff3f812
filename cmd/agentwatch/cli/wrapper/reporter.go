package wrapper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
)

// reportTimeout bounds every daemon call. The wrapped agent must never
// stall on a slow or absent daemon.
const reportTimeout = 2 * time.Second

// Registration is the overlay state pushed to the daemon. Field names
// follow the daemon's snake_case wire format.
type Registration struct {
	RunID     string `json:"run_id"`
	PID       int32  `json:"pid"`
	Agent     string `json:"agent"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Command   string `json:"command,omitempty"`
}

// Reporter pushes wrapper overlay state to a running daemon over HTTP.
// All methods are best-effort from the caller's point of view: errors
// are returned for logging but never abort the wrapped process.
type Reporter struct {
	baseURL string
	client  *http.Client
}

// NewReporter returns a reporter for the daemon at baseURL, e.g.
// "http://127.0.0.1:8765".
func NewReporter(baseURL string) *Reporter {
	return &Reporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: reportTimeout},
	}
}

// Register announces the wrapped process. The daemon treats repeated
// registrations for the same PID as status updates, so Register doubles
// as the heartbeat call.
func (r *Reporter) Register(ctx context.Context, reg Registration) error {
	if reg.Status == "" {
		reg.Status = string(livestore.StateWorking)
	}
	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshaling wrapper registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/wrappers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building wrapper registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return r.do(req)
}

// Deregister removes the overlay after the wrapped process exited. The
// daemon also stamps the managed-session record when runID is set.
func (r *Reporter) Deregister(ctx context.Context, pid int32, runID string, exitCode int) error {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
		q.Set("exit_code", strconv.Itoa(exitCode))
	}
	u := fmt.Sprintf("%s/api/wrappers/%d", r.baseURL, pid)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("building wrapper deregistration request: %w", err)
	}

	return r.do(req)
}

func (r *Reporter) do(req *http.Request) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reaching daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Surface the daemon's error message when there is one.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("daemon rejected wrapper call: %s", envelope.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return nil
}
