package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"task-mail-intake-go/internal/models"
)

// agentRequest is the conversational agent's expected payload.
type agentRequest struct {
	UserInput string `json:"user_input"`
	UserEmail string `json:"user_email"`
	TaskTitle string `json:"task_title"`
}

// agentResponse is what the agent returns for one turn.
type agentResponse struct {
	Question   string `json:"question"`
	IsComplete bool   `json:"is_complete"`
	ThreadID   string `json:"thread_id"`
}

// AgentClient hands messages to the conversational agent over HTTP.
type AgentClient struct {
	url         string
	client      *http.Client
	maxAttempts int
}

// NewAgentClient creates an agent pipeline client.
func NewAgentClient(url string, timeout time.Duration, maxAttempts int) *AgentClient {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &AgentClient{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
	}
}

// Handle posts the payload to the agent with bounded retry. Only rate-limit
// and server-side failures are retried; a 4xx rejection is permanent.
func (a *AgentClient) Handle(ctx context.Context, msg models.InboundMessage, payload string) (Result, error) {
	body, err := json.Marshal(agentRequest{
		UserInput: payload,
		UserEmail: msg.Sender,
		TaskTitle: msg.Subject,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		resp, err := a.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) {
			break
		}
		logrus.Warnf("Agent call failed (attempt %d/%d): %v", attempt, a.maxAttempts, err)

		waitTime := time.Duration(attempt*attempt) * time.Second
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return Result{}, fmt.Errorf("agent call failed after %d attempts: %w", a.maxAttempts, lastErr)
}

func (a *AgentClient) post(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, &statusError{code: resp.StatusCode, body: string(data)}
	}

	var parsed agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("failed to decode agent response: %w", err)
	}

	return Result{
		ResponseText: parsed.Question,
		Complete:     parsed.IsComplete,
		DownstreamID: parsed.ThreadID,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// retryable reports whether the error is worth another attempt.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Network-level failures are retryable.
	return true
}
