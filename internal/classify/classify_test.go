package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-mail-intake-go/internal/models"
)

func TestDefaultClassifierSkipsNewsletter(t *testing.T) {
	c := NewClassifier(DefaultPredicates()...)

	relevant, err := c.Relevant(models.InboundMessage{
		Sender:  "news@example.com",
		Subject: "Weekly Newsletter",
		Body:    "Here is what happened this week.",
	})
	require.NoError(t, err)
	assert.False(t, relevant)
}

func TestDefaultClassifierMatchesTaskKeywords(t *testing.T) {
	c := NewClassifier(DefaultPredicates()...)

	relevant, err := c.Relevant(models.InboundMessage{
		Sender:  "customer@example.com",
		Subject: "Your new task is ready",
		Body:    "Task: repaint the fence, budget 400.",
	})
	require.NoError(t, err)
	assert.True(t, relevant)
}

func TestAutoReplyWithTaskKeywordsIsAmbiguous(t *testing.T) {
	c := NewClassifier(DefaultPredicates()...)

	relevant, err := c.Relevant(models.InboundMessage{
		Sender:  "customer@example.com",
		Subject: "Automatic reply: your new task",
		Body:    "I am out of office until Monday.",
	})
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.False(t, relevant)
}

func TestSenderPredicate(t *testing.T) {
	c := NewClassifier(SenderPredicate("tasks@partner.example"))

	relevant, err := c.Relevant(models.InboundMessage{
		Sender:  "Tasks <tasks@partner.example>",
		Subject: "anything at all",
	})
	require.NoError(t, err)
	assert.True(t, relevant)

	relevant, err = c.Relevant(models.InboundMessage{
		Sender:  "stranger@elsewhere.example",
		Subject: "task: something",
	})
	require.NoError(t, err)
	assert.False(t, relevant)
}

func TestClassifierWithNoPredicates(t *testing.T) {
	c := NewClassifier()

	relevant, err := c.Relevant(models.InboundMessage{Subject: "task: anything"})
	require.NoError(t, err)
	assert.False(t, relevant)
}

func TestExtractPayloadStripsQuotedReply(t *testing.T) {
	msg := models.InboundMessage{
		Body: "The budget is 400 euros.\r\n\r\nOn Mon, Aug 24, 2026 at 9:00 AM Task Bot <bot@example.com> wrote:\r\n> What is your budget?\r\n> Please reply to this email with your response.\r\n",
	}

	payload := ExtractPayload(msg)
	assert.Equal(t, "The budget is 400 euros.", payload)
}

func TestExtractPayloadStripsTrailer(t *testing.T) {
	msg := models.InboundMessage{
		Body: "Repaint the fence.\n\nPlease reply to this email with your response.\n",
	}

	assert.Equal(t, "Repaint the fence.", ExtractPayload(msg))
}

func TestExtractPayloadCollapsesBlankRuns(t *testing.T) {
	msg := models.InboundMessage{
		Body: "First line.\n\n\n\n\nSecond line.",
	}

	assert.Equal(t, "First line.\n\nSecond line.", ExtractPayload(msg))
}
