package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageIDPrefersProviderID(t *testing.T) {
	msg := InboundMessage{ID: "provider-123", Sender: "a@example.com"}
	assert.Equal(t, "provider-123", msg.MessageID())
}

func TestSyntheticMessageIDIsDeterministic(t *testing.T) {
	arrival := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	msg := InboundMessage{
		Sender:      "customer@example.com",
		Subject:     "Task: repaint the fence",
		ArrivalTime: arrival,
	}

	first := msg.MessageID()
	second := msg.MessageID()

	assert.True(t, strings.HasPrefix(first, "synthetic-"))
	assert.Equal(t, first, second)

	// A rescan builds a fresh struct with the same header fields; the id
	// must not change or dedup breaks.
	rescan := InboundMessage{
		Sender:      "customer@example.com",
		Subject:     "Task: repaint the fence",
		Body:        "body content differs on rescan",
		ArrivalTime: arrival,
	}
	assert.Equal(t, first, rescan.MessageID())
}

func TestSyntheticMessageIDDistinguishesMessages(t *testing.T) {
	arrival := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	a := InboundMessage{Sender: "a@example.com", Subject: "x", ArrivalTime: arrival}
	b := InboundMessage{Sender: "b@example.com", Subject: "x", ArrivalTime: arrival}
	c := InboundMessage{Sender: "a@example.com", Subject: "x", ArrivalTime: arrival.Add(time.Second)}

	assert.NotEqual(t, a.MessageID(), b.MessageID())
	assert.NotEqual(t, a.MessageID(), c.MessageID())
}
