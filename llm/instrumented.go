package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/types"
)

const instrumentationName = "github.com/BaSui01/nexus/llm"

// Recorder 接收每次 Provider 调用的结果，通常由 internal/metrics.Collector 实现
type Recorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// InstrumentedProvider 为 CompletionProvider 增加追踪、指标与日志
type InstrumentedProvider struct {
	inner    CompletionProvider
	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger

	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewInstrumentedProvider 包装 inner。recorder 可为 nil。
func NewInstrumentedProvider(inner CompletionProvider, recorder Recorder, logger *zap.Logger) (*InstrumentedProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)

	p := &InstrumentedProvider{
		inner:    inner,
		recorder: recorder,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "llm"), zap.String("provider", inner.Name())),
	}

	var err error
	p.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of completion requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	p.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Completion request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	p.activeRequests, err = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of in-flight completion requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Name 返回被包装 Provider 的名称
func (p *InstrumentedProvider) Name() string {
	return p.inner.Name()
}

// Generate 调用被包装的 Provider 并记录耗时与状态
func (p *InstrumentedProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	model := req.Agent.Model
	attrs := []attribute.KeyValue{
		attribute.String("provider", p.inner.Name()),
		attribute.String("model", model),
	}

	ctx, span := p.tracer.Start(ctx, "llm.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.inner.Name()),
			attribute.String("llm.model", model),
			attribute.String("agent.id", req.Agent.ID),
			attribute.Int("llm.history_length", len(req.History)),
		))
	defer span.End()

	p.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	defer p.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))

	start := time.Now()
	res, err := p.inner.Generate(ctx, req)
	duration := time.Since(start)

	status := "success"
	var promptTokens, completionTokens int
	if err != nil {
		status = string(types.GetErrorCode(err))
		if status == "" {
			status = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("completion failed",
			zap.String("model", model),
			zap.String("agent_id", req.Agent.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		promptTokens, completionTokens = res.PromptTokens, res.CompletionTokens
		span.SetAttributes(
			attribute.Int("llm.tokens.prompt", promptTokens),
			attribute.Int("llm.tokens.completion", completionTokens),
		)
		p.logger.Debug("completion succeeded",
			zap.String("model", model),
			zap.String("agent_id", req.Agent.ID),
			zap.Duration("duration", duration))
	}

	statusAttrs := append(attrs, attribute.String("status", status))
	p.requestTotal.Add(ctx, 1, metric.WithAttributes(statusAttrs...))
	p.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(statusAttrs...))
	if p.recorder != nil {
		p.recorder.RecordLLMRequest(p.inner.Name(), model, status, duration, promptTokens, completionTokens)
	}

	return res, err
}
