// Package draft generates metadata suggestions for a record from its
// OCR text. Suggestions are always returned to the caller for review,
// never written to the store directly.
package draft

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/pressfold/magarchive/internal/textutil"
)

const (
	// maxInputChars bounds the OCR text sent per request. Long
	// articles stay well under the model context limit after this cut.
	maxInputChars = 24000

	systemPrompt = `You are an archivist assistant for a magazine archive. Given the OCR text of a magazine article, respond with a single JSON object and nothing else, using exactly these keys:
{"title": string, "summary": string, "authors": [string], "tags": [string], "year": number or null}
The summary is 2-4 sentences. Tags are short lowercase topic labels, at most 6. Use null for the year unless the text states it.`
)

// Draft holds AI-suggested metadata for a record.
type Draft struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Authors []string `json:"authors"`
	Tags    []string `json:"tags"`
	Year    int      `json:"year,omitempty"`
}

// completionAPI is the slice of the OpenAI client we use. The real
// client satisfies it; tests substitute a fake.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces metadata drafts via a chat-completions API.
type Generator struct {
	api   completionAPI
	model string
}

// NewGenerator builds a Generator against the OpenAI API. baseURL may
// be empty for the default endpoint, or point at a compatible server.
func NewGenerator(apiKey, baseURL, model string) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Generator{api: openai.NewClientWithConfig(cfg), model: model}
}

// ErrNoText is returned when the record carries no usable OCR text.
var ErrNoText = errors.New("draft: record has no OCR text")

// Generate asks the model for metadata suggestions over the given OCR
// text. The text is truncated before sending.
func (g *Generator) Generate(ctx context.Context, ocrText string) (Draft, error) {
	ocrText = strings.TrimSpace(ocrText)
	if ocrText == "" {
		return Draft{}, ErrNoText
	}

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: textutil.Truncate(ocrText, maxInputChars)},
		},
	})
	if err != nil {
		return Draft{}, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return Draft{}, errors.New("chat completion returned no choices")
	}
	return parseDraft(resp.Choices[0].Message.Content)
}

// parseDraft extracts a Draft from the model output. Models sometimes
// wrap the JSON in code fences or prefix prose, so we locate the JSON
// object instead of unmarshalling the whole reply.
func parseDraft(content string) (Draft, error) {
	body := extractJSON(content)
	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		return Draft{}, fmt.Errorf("no JSON object in model reply: %.80q", content)
	}

	d := Draft{
		Title:   strings.TrimSpace(parsed.Get("title").String()),
		Summary: strings.TrimSpace(parsed.Get("summary").String()),
	}
	for _, a := range parsed.Get("authors").Array() {
		if v := strings.TrimSpace(a.String()); v != "" {
			d.Authors = append(d.Authors, v)
		}
	}
	for _, t := range parsed.Get("tags").Array() {
		if v := strings.ToLower(strings.TrimSpace(t.String())); v != "" {
			d.Tags = append(d.Tags, v)
		}
	}
	if y := parsed.Get("year"); y.Exists() && y.Type == gjson.Number {
		year := int(y.Int())
		if year >= 1400 && year <= 2200 {
			d.Year = year
		}
	}
	if d.Title == "" && d.Summary == "" {
		return Draft{}, fmt.Errorf("model reply carried no usable fields: %.80q", content)
	}
	return d, nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost {...} span if one exists.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
