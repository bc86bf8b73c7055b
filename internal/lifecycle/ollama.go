// Package lifecycle provisions the embedding model on an Ollama server:
// it checks that the server answers, lists its models and pulls a missing
// one with streamed progress.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// ReadyPollInterval is the initial polling interval for WaitForReady.
	ReadyPollInterval = 100 * time.Millisecond

	// MaxReadyPollInterval caps exponential backoff.
	MaxReadyPollInterval = 2 * time.Second
)

// OllamaManager talks to the management endpoints of an Ollama server.
type OllamaManager struct {
	host   string
	client *http.Client

	// pullClient has no timeout; pulls stream for minutes.
	pullClient *http.Client
}

// OllamaStatus is the state of the server relative to one model.
type OllamaStatus struct {
	Host        string   `json:"host"`
	Running     bool     `json:"running"`
	Models      []string `json:"models,omitempty"`
	TargetModel string   `json:"target_model"`
	HasModel    bool     `json:"has_model"`
}

// PullProgress is one line of a streamed pull.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64
}

// NewOllamaManager creates a manager for host. Empty means DefaultHost.
func NewOllamaManager(host string) *OllamaManager {
	if host == "" {
		host = DefaultHost
	}
	return &OllamaManager{
		host:       strings.TrimRight(host, "/"),
		client:     &http.Client{Timeout: 5 * time.Second},
		pullClient: &http.Client{},
	}
}

// Host returns the configured Ollama host.
func (m *OllamaManager) Host() string {
	return m.host
}

// IsRunning reports whether the server answers. A refused or timed out
// connection is not an error.
func (m *OllamaManager) IsRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of the models on the server.
func (m *OllamaManager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &NotRunningError{Host: m.host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, md := range result.Models {
		models[i] = md.Name
	}
	return models, nil
}

// HasModel reports whether model is on the server. A name without a tag
// matches any tag of that model.
func (m *OllamaManager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, model), nil
}

func containsModel(models []string, model string) bool {
	want := strings.ToLower(model)
	wantBase, wantTag, tagged := strings.Cut(want, ":")
	for _, available := range models {
		have := strings.ToLower(available)
		if have == want {
			return true
		}
		haveBase, haveTag, _ := strings.Cut(have, ":")
		if haveBase != wantBase {
			continue
		}
		if !tagged || (wantTag == "latest" && haveTag == "") {
			return true
		}
	}
	return false
}

// Status reports whether the server runs and has model.
func (m *OllamaManager) Status(ctx context.Context, model string) *OllamaStatus {
	st := &OllamaStatus{Host: m.host, TargetModel: model}
	models, err := m.ListModels(ctx)
	if err != nil {
		return st
	}
	st.Running = true
	st.Models = models
	st.HasModel = containsModel(models, model)
	return st
}

// WaitForReady polls the server with exponential backoff until it
// answers or timeout elapses.
func (m *OllamaManager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := ReadyPollInterval
	for {
		if m.IsRunning(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return &NotRunningError{Host: m.host, Err: ctx.Err()}
		case <-time.After(interval):
		}
		interval = min(interval*2, MaxReadyPollInterval)
	}
}

// PullModel downloads model unless it is already present, calling
// progress for every streamed status line.
func (m *OllamaManager) PullModel(ctx context.Context, model string, progress func(PullProgress)) error {
	has, err := m.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	body, err := json.Marshal(map[string]any{"name": model, "stream": true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return &ModelNotFoundError{Model: model, Reason: msg.Error}
		}
		if progress != nil {
			p := PullProgress{Status: msg.Status, Digest: msg.Digest, Total: msg.Total, Completed: msg.Completed}
			if msg.Total > 0 {
				p.Percent = float64(msg.Completed) / float64(msg.Total) * 100
			}
			progress(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}
	return nil
}

// NotRunningError means the server did not answer.
type NotRunningError struct {
	Host string
	Err  error
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("ollama is not reachable at %s: %v", e.Host, e.Err)
}

func (e *NotRunningError) Unwrap() error { return e.Err }

// ModelNotFoundError means the server could not provide the model.
type ModelNotFoundError struct {
	Model  string
	Reason string
}

func (e *ModelNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("model %s not found", e.Model)
	}
	return fmt.Sprintf("model %s not available: %s", e.Model, e.Reason)
}
