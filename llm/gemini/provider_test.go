package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/BaSui01/nexus/llm"
	"github.com/BaSui01/nexus/types"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig

	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 5,
		},
	}
}

func contentText(c *genai.Content) string {
	if c == nil || len(c.Parts) == 0 {
		return ""
	}
	return c.Parts[0].Text
}

func msg(id string, role types.Role, content string) types.Message {
	return types.Message{ID: id, Role: role, Content: content}
}

func TestBuildContents(t *testing.T) {
	t.Run("EmptyHistorySeedsUserTurn", func(t *testing.T) {
		contents := BuildContents(nil, "Start.")
		require.Len(t, contents, 1)
		assert.Equal(t, string(genai.RoleUser), contents[0].Role)
		assert.Equal(t, "Start.", contentText(contents[0]))
	})

	t.Run("RolesMapToUserOrModel", func(t *testing.T) {
		history := []types.Message{
			msg("m1", types.RoleUser, "hi"),
			msg("m2", types.RoleModel, "hello"),
			msg("m3", types.RoleSystem, "note"),
		}
		contents := BuildContents(history, "hello again")
		require.Len(t, contents, 4)
		assert.Equal(t, string(genai.RoleUser), contents[0].Role)
		assert.Equal(t, string(genai.RoleModel), contents[1].Role)
		assert.Equal(t, string(genai.RoleModel), contents[2].Role)
		assert.Equal(t, string(genai.RoleUser), contents[3].Role)
		assert.Equal(t, "hello again", contentText(contents[3]))
	})

	t.Run("SeedEqualToLastUserMessageNotDuplicated", func(t *testing.T) {
		history := []types.Message{msg("m1", types.RoleUser, "question")}
		contents := BuildContents(history, "question")
		assert.Len(t, contents, 1)
	})

	t.Run("SeedEqualToLastModelMessageRepeatedAsUser", func(t *testing.T) {
		history := []types.Message{msg("m1", types.RoleModel, "claim")}
		contents := BuildContents(history, "claim")
		require.Len(t, contents, 2)
		assert.Equal(t, string(genai.RoleUser), contents[1].Role)
		assert.Equal(t, "claim", contentText(contents[1]))
	})
}

func TestThinkingBudget(t *testing.T) {
	tests := []struct {
		max  int
		want int32
	}{
		{1000, 400},
		{800, 320},
		{401, 160},
		{20000, 4000},
		{0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.max), func(t *testing.T) {
			assert.Equal(t, tt.want, ThinkingBudget(tt.max, 0.4, 4000))
		})
	}
}

func TestBuildConfig(t *testing.T) {
	p := newWithModels(&fakeModels{}, Config{}, nil)
	cfg := p.BuildConfig(types.Agent{Persona: "You are A.", Temperature: 0.7}, "round directive")

	assert.Equal(t, "You are A.\n\nround directive", contentText(cfg.SystemInstruction))
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.7, *cfg.Temperature, 1e-6)
	assert.InDelta(t, 0.95, *cfg.TopP, 1e-6)
	assert.InDelta(t, 40, *cfg.TopK, 1e-6)
	assert.Equal(t, int32(types.DefaultMaxOutputTokens), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.Equal(t, int32(400), *cfg.ThinkingConfig.ThinkingBudget)

	cfg = p.BuildConfig(types.Agent{MaxOutputTokens: 400}, "")
	assert.Equal(t, int32(400), cfg.MaxOutputTokens)
	assert.Equal(t, int32(160), *cfg.ThinkingConfig.ThinkingBudget)
}

func TestProvider_Generate(t *testing.T) {
	fake := &fakeModels{resp: textResponse("a reply")}
	p := newWithModels(fake, Config{MemoryWindow: 2}, zap.NewNop())
	assert.Equal(t, "gemini", p.Name())

	history := []types.Message{
		msg("m1", types.RoleUser, "one"),
		msg("m2", types.RoleModel, "two"),
		msg("m3", types.RoleModel, "three"),
	}
	res, err := p.Generate(context.Background(), &llm.GenerateRequest{
		Agent:     types.Agent{ID: "a1", Model: "gemini-3-flash-preview", Persona: "P"},
		History:   history,
		SeedText:  "three",
		Directive: "D",
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini-3-flash-preview", fake.model)
	assert.Len(t, fake.contents, 4)
	assert.Equal(t, "a reply", res.Content)
	assert.Equal(t, []string{"m2", "m3"}, res.ReferencedIDs)
	assert.Equal(t, 12, res.PromptTokens)
	assert.Equal(t, 5, res.CompletionTokens)
	assert.Contains(t, string(res.RawRequest), "gemini-3-flash-preview")
	assert.NotEmpty(t, res.RawResponse)
}

func TestProvider_GenerateMemoryWindow(t *testing.T) {
	history := []types.Message{
		msg("m1", types.RoleUser, "one"),
		msg("m2", types.RoleModel, "two"),
		msg("m3", types.RoleModel, "three"),
	}
	tests := []struct {
		window int
		want   []string
	}{
		{window: 0, want: nil},
		{window: 1, want: []string{"m3"}},
		{window: 5, want: []string{"m1", "m2", "m3"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("window %d", tt.window), func(t *testing.T) {
			p := newWithModels(&fakeModels{resp: textResponse("ok")}, Config{MemoryWindow: tt.window}, nil)
			res, err := p.Generate(context.Background(), &llm.GenerateRequest{
				Agent:    types.Agent{Model: "m"},
				History:  history,
				SeedText: "three",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ReferencedIDs)
		})
	}
}

func TestProvider_GenerateEmptyReply(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{}}
	p := newWithModels(fake, Config{}, nil)

	res, err := p.Generate(context.Background(), &llm.GenerateRequest{
		Agent:    types.Agent{Model: "m"},
		SeedText: "Start.",
	})
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, res.Content)
	assert.Nil(t, res.ReferencedIDs)
}

func TestProvider_GenerateRequiresModel(t *testing.T) {
	p := newWithModels(&fakeModels{}, Config{}, nil)
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrProviderNotSet))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      types.ErrorCode
		retryable bool
	}{
		{"Unauthorized", genai.APIError{Code: 401, Message: "bad key"}, types.ErrAuthentication, false},
		{"NotFound", genai.APIError{Code: 404, Message: "no such model"}, types.ErrModelNotFound, false},
		{"RateLimited", genai.APIError{Code: 429, Message: "slow down"}, types.ErrRateLimit, true},
		{"Quota", genai.APIError{Code: 429, Message: "Quota exceeded"}, types.ErrQuotaExceeded, false},
		{"Overloaded", genai.APIError{Code: 503, Message: "overloaded"}, types.ErrModelOverloaded, true},
		{"ServerError", genai.APIError{Code: 500, Message: "boom"}, types.ErrUpstreamError, true},
		{"BadRequest", genai.APIError{Code: 400, Message: "bad"}, types.ErrInvalidRequest, false},
		{"Deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), types.ErrUpstreamTimeout, true},
		{"Network", errors.New("connection reset"), types.ErrUpstreamError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, "gemini", e.Provider)
		})
	}
}

func TestProvider_GenerateMapsErrors(t *testing.T) {
	fake := &fakeModels{err: genai.APIError{Code: 429, Message: "slow down"}}
	p := newWithModels(fake, Config{}, nil)

	_, err := p.Generate(context.Background(), &llm.GenerateRequest{Agent: types.Agent{Model: "m"}})
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimit))
	assert.True(t, types.IsRetryable(err))
}
