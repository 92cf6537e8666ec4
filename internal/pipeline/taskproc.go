package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"task-mail-intake-go/internal/models"
)

// taskRequest is the task-creation endpoint's expected payload.
type taskRequest struct {
	CustomerName string `json:"customer_name"`
	Task         string `json:"task"`
	Budget       string `json:"budget,omitempty"`
	Description  string `json:"description"`
	EmailSubject string `json:"email_subject"`
	UserEmail    string `json:"user_email"`
}

// taskResponse is the task-creation endpoint's reply.
type taskResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// TaskProcClient hands structured task data to the task-creation endpoint.
type TaskProcClient struct {
	url    string
	client *http.Client
}

// NewTaskProcClient creates a task-processor pipeline client.
func NewTaskProcClient(url string, timeout time.Duration) *TaskProcClient {
	return &TaskProcClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

var taskFieldPatterns = map[string]*regexp.Regexp{
	"task":     regexp.MustCompile(`(?i)task\s*:?\s*([^\n\r]+)`),
	"budget":   regexp.MustCompile(`(?i)(?:task\s*)?budget\s*:?\s*([^\n\r]+)`),
	"customer": regexp.MustCompile(`(?i)customer\s*(?:name)?\s*:?\s*([^\n\r]+)`),
}

// extractTaskData pulls labeled task fields from the payload, falling back
// to the subject and the sender's local part where fields are missing.
func extractTaskData(msg models.InboundMessage, payload string) taskRequest {
	req := taskRequest{
		EmailSubject: msg.Subject,
		UserEmail:    msg.Sender,
	}

	if m := taskFieldPatterns["task"].FindStringSubmatch(payload); len(m) > 1 {
		req.Task = strings.TrimSpace(m[1])
	}
	if m := taskFieldPatterns["budget"].FindStringSubmatch(payload); len(m) > 1 {
		req.Budget = strings.TrimSpace(m[1])
	}
	if m := taskFieldPatterns["customer"].FindStringSubmatch(payload); len(m) > 1 {
		req.CustomerName = strings.TrimSpace(m[1])
	}

	if req.Task == "" {
		req.Task = msg.Subject
	}
	if req.CustomerName == "" {
		if at := strings.Index(msg.Sender, "@"); at > 0 {
			req.CustomerName = msg.Sender[:at]
		} else {
			req.CustomerName = msg.Sender
		}
	}

	description := payload
	if len(description) > 500 {
		cut := 500
		// Back up to a rune boundary so the truncation never emits
		// invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(description[cut]) {
			cut--
		}
		description = description[:cut]
	}
	req.Description = description

	return req
}

// Handle posts the extracted task data to the task-creation endpoint.
func (c *TaskProcClient) Handle(ctx context.Context, msg models.InboundMessage, payload string) (Result, error) {
	body, err := json.Marshal(extractTaskData(msg, payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal task request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("task processor call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, &statusError{code: resp.StatusCode, body: string(data)}
	}

	var parsed taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("failed to decode task processor response: %w", err)
	}

	return Result{
		ResponseText: parsed.Message,
		Complete:     true,
		DownstreamID: parsed.TaskID,
	}, nil
}
