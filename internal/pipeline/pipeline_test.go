package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-mail-intake-go/internal/models"
)

func TestAgentClientHappyPath(t *testing.T) {
	var gotReq agentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(agentResponse{
			Question:   "What is your budget?",
			IsComplete: false,
			ThreadID:   "thread-42",
		})
	}))
	defer srv.Close()

	client := NewAgentClient(srv.URL, 5*time.Second, 1)
	msg := models.InboundMessage{Sender: "customer@example.com", Subject: "Task: repaint the fence"}

	result, err := client.Handle(context.Background(), msg, "Repaint the fence please.")
	require.NoError(t, err)

	assert.Equal(t, "customer@example.com", gotReq.UserEmail)
	assert.Equal(t, "Task: repaint the fence", gotReq.TaskTitle)
	assert.Equal(t, "Repaint the fence please.", gotReq.UserInput)

	assert.Equal(t, "What is your budget?", result.ResponseText)
	assert.False(t, result.Complete)
	assert.Equal(t, "thread-42", result.DownstreamID)
}

func TestAgentClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(agentResponse{IsComplete: true, ThreadID: "thread-7"})
	}))
	defer srv.Close()

	client := NewAgentClient(srv.URL, 5*time.Second, 2)

	result, err := client.Handle(context.Background(), models.InboundMessage{}, "payload")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "thread-7", result.DownstreamID)
}

func TestAgentClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewAgentClient(srv.URL, 5*time.Second, 3)

	_, err := client.Handle(context.Background(), models.InboundMessage{}, "payload")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTaskProcClientPostsExtractedData(t *testing.T) {
	var gotReq taskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(taskResponse{TaskID: "task-99", Message: "Task created"})
	}))
	defer srv.Close()

	client := NewTaskProcClient(srv.URL, 5*time.Second)
	msg := models.InboundMessage{Sender: "jane@example.com", Subject: "New task request"}

	result, err := client.Handle(context.Background(), msg, "Task: repaint the fence\nBudget: 400 euros\nCustomer: Jane Doe")
	require.NoError(t, err)

	assert.Equal(t, "repaint the fence", gotReq.Task)
	assert.Equal(t, "400 euros", gotReq.Budget)
	assert.Equal(t, "Jane Doe", gotReq.CustomerName)
	assert.Equal(t, "New task request", gotReq.EmailSubject)

	assert.True(t, result.Complete)
	assert.Equal(t, "task-99", result.DownstreamID)
	assert.Equal(t, "Task created", result.ResponseText)
}

func TestExtractTaskDataFallbacks(t *testing.T) {
	msg := models.InboundMessage{Sender: "jane@example.com", Subject: "Fix the gutters"}

	req := extractTaskData(msg, "No labeled fields here at all.")

	assert.Equal(t, "Fix the gutters", req.Task)
	assert.Equal(t, "jane", req.CustomerName)
	assert.Equal(t, "No labeled fields here at all.", req.Description)
}

func TestExtractTaskDataTruncatesOnRuneBoundary(t *testing.T) {
	msg := models.InboundMessage{Sender: "jane@example.com", Subject: "Long request"}

	// A two-byte rune straddles the 500-byte cut point.
	payload := strings.Repeat("a", 499) + "é" + strings.Repeat("b", 50)
	req := extractTaskData(msg, payload)

	assert.True(t, utf8.ValidString(req.Description))
	assert.LessOrEqual(t, len(req.Description), 500)
	assert.Equal(t, strings.Repeat("a", 499), req.Description)
}
