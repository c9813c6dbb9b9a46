package draft

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	reply string
	err   error
	gotIn string
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if len(req.Messages) > 0 {
		f.gotIn = req.Messages[len(req.Messages)-1].Content
	}
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestGenerateParsesCleanJSON(t *testing.T) {
	api := &fakeAPI{reply: `{"title":"Jazz in Exile","summary":"A profile of expatriate musicians.","authors":["M. Laurent"],"tags":["Jazz","Music "],"year":1967}`}
	g := &Generator{api: api, model: "test"}

	d, err := g.Generate(context.Background(), "some ocr text")
	require.NoError(t, err)
	assert.Equal(t, "Jazz in Exile", d.Title)
	assert.Equal(t, []string{"M. Laurent"}, d.Authors)
	assert.Equal(t, []string{"jazz", "music"}, d.Tags)
	assert.Equal(t, 1967, d.Year)
}

func TestGenerateToleratesCodeFences(t *testing.T) {
	api := &fakeAPI{reply: "Here you go:\n```json\n{\"title\":\"Fenced\",\"summary\":\"s\",\"year\":null}\n```"}
	g := &Generator{api: api, model: "test"}

	d, err := g.Generate(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Fenced", d.Title)
	assert.Zero(t, d.Year)
}

func TestGenerateRejectsGarbage(t *testing.T) {
	g := &Generator{api: &fakeAPI{reply: "I cannot help with that."}, model: "test"}
	_, err := g.Generate(context.Background(), "text")
	assert.Error(t, err)
}

func TestGenerateEmptyText(t *testing.T) {
	g := &Generator{api: &fakeAPI{}, model: "test"}
	_, err := g.Generate(context.Background(), "   \n ")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestGenerateTruncatesInput(t *testing.T) {
	long := make([]byte, maxInputChars*2)
	for i := range long {
		long[i] = 'a'
	}
	api := &fakeAPI{reply: `{"title":"T","summary":"S"}`}
	g := &Generator{api: api, model: "test"}

	_, err := g.Generate(context.Background(), string(long))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(api.gotIn), maxInputChars+len("..."))
}

func TestParseDraftImplausibleYearDropped(t *testing.T) {
	d, err := parseDraft(`{"title":"T","summary":"S","year":19}`)
	require.NoError(t, err)
	assert.Zero(t, d.Year)
}
