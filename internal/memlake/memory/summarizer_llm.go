package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/memlake/common/redact"
)

const (
	defaultSummarizerBase      = "https://api.openai.com/v1"
	defaultSummarizerModel     = "gpt-4o-mini"
	defaultSummarizerMaxTokens = 512

	summarizerSystemPrompt = `You condense a conversation between a user and an assistant into one memory entry.
Reply with a single JSON object and nothing else:
{"topic": "...", "keywords": ["..."], "detail": "..."}
- topic: a specific label of 4 to 15 words (or 4 to 15 characters in Chinese) naming what was discussed. Prefer "Python calculator program" over "programming".
- keywords: up to 8 short keywords taken from the conversation.
- detail: 2 to 4 sentences recording what the user asked and what the assistant answered or did, keeping names, places, numbers and file names.
Write the topic and detail in the language the user used.`
)

// ErrMalformedSummary marks a response that is not a valid summary object.
var ErrMalformedSummary = errors.New("memory: malformed summarizer response")

const summarySchemaJSON = `{
  "type": "object",
  "required": ["topic", "detail"],
  "properties": {
    "topic": {"type": "string", "minLength": 1},
    "keywords": {
      "oneOf": [
        {"type": "array", "items": {"type": "string"}},
        {"type": "string"}
      ]
    },
    "detail": {"type": "string", "minLength": 1}
  }
}`

var summarySchema = jsonschema.MustCompileString("memlake://summary.json", summarySchemaJSON)

// LLMSummarizerConfig configures the chat-completions summarizer.
type LLMSummarizerConfig struct {
	// APIKey is the bearer token for the endpoint.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. https://api.deepseek.com/v1.
	// Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the chat model. Defaults to gpt-4o-mini.
	Model string

	// MaxTokens bounds the completion length. Defaults to 512.
	MaxTokens int
}

// LLMSummarizer implements Summarizer over any OpenAI-compatible chat
// completions API. It asks for a JSON object, repairs common JSON mistakes
// and validates the result against a schema before returning it.
type LLMSummarizer struct {
	cfg    LLMSummarizerConfig
	client *openai.Client
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer creates the summarizer. The client does not retry on its
// own; retries are applied by the Engine.
func NewLLMSummarizer(cfg LLMSummarizerConfig) *LLMSummarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSummarizerBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultSummarizerModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultSummarizerMaxTokens
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	)
	return &LLMSummarizer{cfg: cfg, client: &client}
}

// Summarize sends the transcript with the summarization prompt and parses
// the reply.
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return Summary{}, ErrEmptySummary
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarizerSystemPrompt),
			openai.UserMessage(transcript),
		},
		MaxTokens: openai.Int(int64(s.cfg.MaxTokens)),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summarizer llm: %s", redact.String(err.Error(), s.cfg.APIKey))
	}
	if len(resp.Choices) == 0 {
		return Summary{}, fmt.Errorf("summarizer llm: no choices returned: %w", ErrEmptySummary)
	}
	return parseSummary(resp.Choices[0].Message.Content)
}

// rawSummary accepts keywords as either a list or a delimited string.
type rawSummary struct {
	Topic    string          `json:"topic"`
	Keywords json.RawMessage `json:"keywords"`
	Detail   string          `json:"detail"`
}

// parseSummary extracts the JSON object from a model reply, repairing it if
// needed, and validates it.
func parseSummary(content string) (Summary, error) {
	body := extractJSONObject(content)
	if body == "" {
		return Summary{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedSummary)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return Summary{}, fmt.Errorf("%w: %v", ErrMalformedSummary, err)
		}
		fixed, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return Summary{}, fmt.Errorf("%w: repair: %v", ErrMalformedSummary, rerr)
		}
		body = fixed
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return Summary{}, fmt.Errorf("%w: %v", ErrMalformedSummary, err)
		}
	}
	if err := summarySchema.Validate(doc); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrMalformedSummary, err)
	}

	var raw rawSummary
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrMalformedSummary, err)
	}
	return Summary{
		Topic:    raw.Topic,
		Keywords: decodeKeywords(raw.Keywords),
		Detail:   raw.Detail,
	}, nil
}

// extractJSONObject strips code fences and returns the text from the first
// '{' to the last '}'.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 {
		return ""
	}
	if end < start {
		// Truncated reply; let the repair step close it.
		return s[start:]
	}
	return s[start : end+1]
}

func decodeKeywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil
	}
	return strings.FieldsFunc(joined, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == ';'
	})
}
