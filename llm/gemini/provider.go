package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/BaSui01/nexus/llm"
	"github.com/BaSui01/nexus/types"
)

const (
	providerName = "gemini"

	// EmptyReply 模型未返回文本时写入的占位内容
	EmptyReply = "No response from model."

	defaultTopP          = 0.95
	defaultTopK          = 40
	defaultThinkingRatio = 0.4
	defaultThinkingCap   = 4000
)

// Config Gemini Provider 配置
type Config struct {
	APIKey     string
	BaseURL    string // 代理地址，空则使用官方端点
	APIVersion string
	TopP       float64
	TopK       float64
	// ThinkingRatio 思考预算占输出上限的比例
	ThinkingRatio float64
	// ThinkingCap 思考预算的绝对上限
	ThinkingCap int
	// MemoryWindow 作为“引用记忆”上报的最近消息数，0 表示不上报
	MemoryWindow int
	// HTTPClient 为空时使用 genai 默认客户端
	HTTPClient *http.Client
}

// contentGenerator 是 *genai.Models 中本包用到的部分
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider 基于 google.golang.org/genai 的 Gemini 补全实现
type Provider struct {
	models contentGenerator
	cfg    Config
	logger *zap.Logger
}

// New 创建 Gemini Provider
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrProviderNotSet, "gemini api key is required").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithProvider(providerName)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v1beta"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newWithModels(client.Models, cfg, logger), nil
}

func newWithModels(models contentGenerator, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopP == 0 {
		cfg.TopP = defaultTopP
	}
	if cfg.TopK == 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.ThinkingRatio == 0 {
		cfg.ThinkingRatio = defaultThinkingRatio
	}
	if cfg.ThinkingCap == 0 {
		cfg.ThinkingCap = defaultThinkingCap
	}
	return &Provider{
		models: models,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "gemini")),
	}
}

// Name 返回 "gemini"
func (p *Provider) Name() string { return providerName }

// Generate 调用 GenerateContent 生成一条回复
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	if req == nil || req.Agent.Model == "" {
		return nil, types.NewInvalidRequestError("agent model is required").WithProvider(providerName)
	}

	contents := BuildContents(req.History, req.SeedText)
	config := p.BuildConfig(req.Agent, req.Directive)

	rawReq, _ := json.Marshal(map[string]any{
		"model":    req.Agent.Model,
		"contents": contents,
		"config":   config,
	})

	resp, err := p.models.GenerateContent(ctx, req.Agent.Model, contents, config)
	if err != nil {
		return nil, mapError(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		text = EmptyReply
	}
	rawResp, _ := json.Marshal(resp)

	result := &llm.GenerateResult{
		Content:       text,
		ReferencedIDs: types.RecentMessageIDs(req.History, p.cfg.MemoryWindow),
		RawRequest:    rawReq,
		RawResponse:   rawResp,
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

// BuildContents 把会话历史转换为 Gemini 对话轮次。
// 种子文本不是最后一条用户消息时追加为新的用户轮次。
func BuildContents(history []types.Message, seed string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleModel)
		if m.Role == types.RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	if len(history) == 0 {
		return append(contents, genai.NewContentFromText(seed, genai.RoleUser))
	}
	last := history[len(history)-1]
	if last.Content != seed || last.Role != types.RoleUser {
		contents = append(contents, genai.NewContentFromText(seed, genai.RoleUser))
	}
	return contents
}

// BuildConfig 由 Agent 参数与本轮指令构建生成配置
func (p *Provider) BuildConfig(agent types.Agent, directive string) *genai.GenerateContentConfig {
	maxTokens := agent.OutputCap()
	temperature := float32(agent.Temperature)
	topP := float32(p.cfg.TopP)
	topK := float32(p.cfg.TopK)
	budget := ThinkingBudget(maxTokens, p.cfg.ThinkingRatio, p.cfg.ThinkingCap)

	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(llm.SystemInstruction(agent.Persona, directive), genai.RoleUser),
		Temperature:       &temperature,
		TopP:              &topP,
		TopK:              &topK,
		MaxOutputTokens:   int32(maxTokens),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: &budget},
	}
}

// ThinkingBudget = min(floor(maxTokens*ratio), limit)
func ThinkingBudget(maxTokens int, ratio float64, limit int) int32 {
	budget := int(math.Floor(float64(maxTokens) * ratio))
	if budget > limit {
		budget = limit
	}
	if budget < 0 {
		budget = 0
	}
	return int32(budget)
}

// mapError 把 genai 错误映射为 *types.Error
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "gemini request timed out").
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true).
			WithProvider(providerName).
			WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrUpstreamError, "gemini request cancelled").
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(providerName).
			WithCause(err)
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName).
			WithCause(err)
	}

	msg := apiErr.Message
	if msg == "" {
		msg = err.Error()
	}
	var e *types.Error
	switch apiErr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		e = types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(http.StatusUnauthorized)
	case http.StatusNotFound:
		e = types.NewError(types.ErrModelNotFound, msg).WithHTTPStatus(http.StatusNotFound)
	case http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(msg), "quota") {
			e = types.NewError(types.ErrQuotaExceeded, msg).WithHTTPStatus(http.StatusTooManyRequests)
		} else {
			e = types.NewError(types.ErrRateLimit, msg).WithHTTPStatus(http.StatusTooManyRequests).WithRetryable(true)
		}
	case http.StatusBadRequest:
		e = types.NewInvalidRequestError(msg)
	case http.StatusServiceUnavailable:
		e = types.NewError(types.ErrModelOverloaded, msg).WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true)
	case http.StatusGatewayTimeout:
		e = types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(http.StatusGatewayTimeout).WithRetryable(true)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(http.StatusBadGateway).WithRetryable(apiErr.Code >= 500)
	}
	return e.WithProvider(providerName).WithCause(err)
}
