// Package booking turns chat transcripts into booking requests.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/BookMeBot/book-me-bot/internal/model/chat"
)

// Extraction is what the extraction service reports for a transcript.
type Extraction struct {
	CompletedData bool                 `json:"completedData"`
	RequestData   *chat.BookingRequest `json:"requestData,omitempty"`
}

// Extractor reads a chat transcript and returns the booking intent found in it.
type Extractor interface {
	Extract(ctx context.Context, history []chat.Message) (Extraction, error)
}

// LLMExtractor asks a chat model to extract the booking request.
type LLMExtractor struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	now          func() time.Time
}

// NewLLMExtractor compiles the extraction chain on top of chatModel.
func NewLLMExtractor(ctx context.Context, chatModel model.BaseChatModel, historyLimit int) (*LLMExtractor, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(extractorSystemPrompt),
		schema.UserMessage(extractorUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile booking extraction chain: %w", err)
	}

	return &LLMExtractor{chain: runnable, historyLimit: historyLimit, now: time.Now}, nil
}

// Extract runs the chain once over the most recent messages.
func (e *LLMExtractor) Extract(ctx context.Context, history []chat.Message) (Extraction, error) {
	input := map[string]any{
		"today":      e.now().UTC().Format("2006-01-02"),
		"transcript": formatTranscript(history, e.historyLimit),
	}

	msg, err := e.chain.Invoke(ctx, input)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to run extraction chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return Extraction{}, errors.New("empty extraction response")
	}
	return ParseExtraction(msg.Content)
}

// ParseExtraction decodes the first JSON object found in content.
func ParseExtraction(content string) (Extraction, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Extraction{}, errors.New("missing json object")
	}

	var out Extraction
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	if out.CompletedData && out.RequestData == nil {
		out.CompletedData = false
	}
	if out.RequestData != nil {
		out.RequestData.Normalize()
	}
	return out, nil
}

func formatTranscript(messages []chat.Message, limit int) string {
	if len(messages) == 0 {
		return "(no messages)"
	}
	start := len(messages) - limit
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, msg := range messages[start:] {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		b.WriteString(msg.From)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "(no messages)"
	}
	return strings.TrimRight(b.String(), "\n")
}

const extractorSystemPrompt = "You read group chats where friends plan a trip and extract their accommodation booking request. " +
	"Reply with a single JSON object and nothing else. The object has a boolean field completedData and an object field requestData. " +
	"requestData has the fields location (string), startDate and endDate (unix seconds, UTC), numberOfGuests and numberOfRooms (integers), " +
	"features (array of strings), budgetPerPerson (number) and currency (ISO 4217 code). " +
	"Set completedData to true only when location, both dates, the number of guests and the budget are all known. Omit unknown fields."

const extractorUserPrompt = "Today is {today}.\n\nChat transcript:\n{transcript}\n\nReturn the JSON object."
