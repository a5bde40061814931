package workshop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/llm"
	"github.com/BaSui01/nexus/types"
)

// Config 编排参数
type Config struct {
	// RoundDelay 两轮之间的停顿
	RoundDelay time.Duration `json:"round_delay" yaml:"round_delay"`
	// MemoryWindow 每条消息记录的引用记忆数
	MemoryWindow int `json:"memory_window" yaml:"memory_window"`
	// SeedText 会话为空时的名义上一句话
	SeedText string `json:"seed_text" yaml:"seed_text"`
	// BackgroundPlaceholder 会话没有共同背景时使用
	BackgroundPlaceholder string `json:"background_placeholder" yaml:"background_placeholder"`
	// ProviderTimeout 单次补全超时，0 表示不限
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout"`
}

// DefaultConfig 返回默认的回合节奏与提示参数
func DefaultConfig() Config {
	return Config{
		RoundDelay:            2200 * time.Millisecond,
		MemoryWindow:          2,
		SeedText:              "Start.",
		BackgroundPlaceholder: DefaultBackgroundPlaceholder,
	}
}

// Metrics 接收编排事件，通常由 internal/metrics.Collector 实现
type Metrics interface {
	RecordWorkshopRun(kind, reason string, rounds int, duration time.Duration)
	RecordWorkshopRound(sessionType string)
	SetActiveWorkshops(n int)
}

// clearTimeout bounds the final run-flag write, which must outlive shutdown.
const clearTimeout = 5 * time.Second

// ErrClosed 编排器已关闭
var ErrClosed = errors.New("orchestrator is closed")

// Orchestrator 驱动多轮自主研讨。
//
// 每轮开始时通过 CancellationToken 读取最新会话状态，停止请求在下一轮生效；
// 已发出的补全调用不会被中断。每个会话同一时刻最多一个运行，运行标志由
// RunID 标识归属。
type Orchestrator struct {
	sessions persistence.SessionStore
	agents   persistence.AgentStore
	provider llm.CompletionProvider
	token    CancellationToken
	metrics  Metrics
	config   Config
	logger   *zap.Logger
	newID    func() string

	status *statusBoard

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// Option 配置 Orchestrator
type Option func(*Orchestrator)

// WithCancellationToken 替换默认的基于存储的取消信号
func WithCancellationToken(token CancellationToken) Option {
	return func(o *Orchestrator) { o.token = token }
}

// WithMetrics 设置指标接收方
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator 替换 uuid 生成器
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator 创建编排器
func NewOrchestrator(sessions persistence.SessionStore, agents persistence.AgentStore, provider llm.CompletionProvider, config Config, opts ...Option) *Orchestrator {
	if config.SeedText == "" {
		config.SeedText = "Start."
	}
	if config.BackgroundPlaceholder == "" {
		config.BackgroundPlaceholder = DefaultBackgroundPlaceholder
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessions: sessions,
		agents:   agents,
		provider: provider,
		config:   config,
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
		status:   newStatusBoard(),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.token == nil {
		o.token = NewStoreCancellationToken(sessions)
	}
	o.logger = o.logger.With(zap.String("component", "workshop"))
	return o
}

// Status 返回会话最近一次运行的快照
func (o *Orchestrator) Status(sessionID string) RunStatus {
	return o.status.get(sessionID)
}

// Forget 丢弃已删除会话的运行记录
func (o *Orchestrator) Forget(sessionID string) {
	o.status.delete(sessionID)
}

// StartWorkshop 启动研讨循环，立即返回。
// 会话已在运行时为空操作；参与者不足两位时返回前置条件错误且不修改状态。
func (o *Orchestrator) StartWorkshop(ctx context.Context, sessionID string) (RunStatus, error) {
	if o.isClosed() {
		return RunStatus{}, serviceClosed()
	}

	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return RunStatus{}, storeError(err, sessionID)
	}
	if sess.IsRunning {
		return o.Status(sessionID), nil
	}
	if len(sess.AgentIDs) < 2 {
		return RunStatus{}, types.NewPreconditionError("a workshop needs at least two agents")
	}

	roster, err := o.resolveAgents(ctx, sess.AgentIDs)
	if err != nil {
		return RunStatus{}, err
	}
	if len(roster) < 2 {
		return RunStatus{}, types.NewPreconditionError("a workshop needs at least two existing agents")
	}

	runID := o.newID()
	alreadyRunning := false
	started, err := o.sessions.UpdateSession(ctx, sessionID, func(s *types.Session) error {
		if s.IsRunning {
			alreadyRunning = true
			return persistence.ErrSkipUpdate
		}
		alreadyRunning = false
		s.IsRunning = true
		s.RunID = runID
		s.CurrentRound = 0
		return nil
	})
	if err != nil {
		return RunStatus{}, storeError(err, sessionID)
	}
	if alreadyRunning {
		return o.Status(sessionID), nil
	}

	ids := make([]string, 0, len(started.AgentIDs))
	for _, id := range started.AgentIDs {
		if _, ok := roster[id]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		o.clearRunFlag(ctx, sessionID, runID)
		return RunStatus{}, types.NewPreconditionError("a workshop needs at least two existing agents")
	}
	seq := TurnSequence(started.Type, ids, started.FirstSpeakerID)

	runCtx, ok := o.track()
	if !ok {
		o.clearRunFlag(ctx, sessionID, runID)
		return RunStatus{}, serviceClosed()
	}
	o.setActive(o.status.begin(sessionID, runID, KindWorkshop))

	o.logger.Info("workshop started",
		zap.String("session_id", sessionID),
		zap.String("run_id", runID),
		zap.String("type", string(started.Type)),
		zap.Strings("sequence", seq),
		zap.Int("max_rounds", started.MaxRounds))

	runCtx = types.WithRunID(types.WithSessionID(runCtx, sessionID), runID)
	go o.runWorkshop(runCtx, sessionID, runID, seq, roster)

	return o.Status(sessionID), nil
}

// StopGeneration 清除运行标志。循环在下一轮检查点退出。
func (o *Orchestrator) StopGeneration(ctx context.Context, sessionID string) error {
	_, err := o.sessions.UpdateSession(ctx, sessionID, func(s *types.Session) error {
		if !s.IsRunning {
			return persistence.ErrSkipUpdate
		}
		s.IsRunning = false
		return nil
	})
	if err != nil {
		return storeError(err, sessionID)
	}
	o.logger.Info("stop requested", zap.String("session_id", sessionID))
	return nil
}

// SendUserMessage 追加一条用户消息。
// SINGLE 会话随后异步生成一条回复；MULTI 会话只追加，作为下一轮研讨的种子；
// DUAL 会话拒绝用户输入。
func (o *Orchestrator) SendUserMessage(ctx context.Context, sessionID, text string) (*types.Message, error) {
	if o.isClosed() {
		return nil, serviceClosed()
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.NewPreconditionError("message text is required")
	}

	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, sessionID)
	}
	if sess.Type == types.SessionDual {
		return nil, types.NewPreconditionError("dual sessions do not accept user messages")
	}
	if sess.IsRunning {
		return nil, types.NewBusyError("session is generating")
	}

	var agent *types.Agent
	if sess.Type == types.SessionSingle {
		agent, err = o.replyAgent(ctx, sess)
		if err != nil {
			return nil, err
		}
	}

	msg := types.NewUserMessage(o.newID(), sessionID, text)
	runID := ""
	if agent != nil {
		runID = o.newID()
	}

	busy := false
	updated, err := o.sessions.UpdateSession(ctx, sessionID, func(s *types.Session) error {
		if s.IsRunning {
			busy = true
			return persistence.ErrSkipUpdate
		}
		busy = false
		s.Messages = append(s.Messages, msg)
		if runID != "" {
			s.IsRunning = true
			s.RunID = runID
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, sessionID)
	}
	if busy {
		return nil, types.NewBusyError("session is generating")
	}
	if runID == "" {
		return &msg, nil
	}

	runCtx, ok := o.track()
	if !ok {
		o.clearRunFlag(ctx, sessionID, runID)
		return &msg, nil
	}
	o.setActive(o.status.begin(sessionID, runID, KindReply))
	runCtx = types.WithRunID(types.WithSessionID(runCtx, sessionID), runID)
	go o.runReply(runCtx, sessionID, runID, *agent, updated.Messages, text)

	return &msg, nil
}

// Close 取消所有运行并等待它们清除运行标志
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Info("orchestrator closed")
	return nil
}

// =============================================================================
// 运行循环
// =============================================================================

func (o *Orchestrator) runWorkshop(ctx context.Context, sessionID, runID string, seq []string, roster map[string]types.Agent) {
	defer o.wg.Done()

	start := time.Now()
	o.status.update(sessionID, runID, func(st *RunStatus) { st.State = StateRunning })

	rounds, reason, runErr := o.loop(ctx, sessionID, runID, seq, roster)
	o.finish(ctx, KindWorkshop, sessionID, runID, rounds, reason, runErr, start)
}

// loop runs rounds until exhaustion, cancellation or failure.
func (o *Orchestrator) loop(ctx context.Context, sessionID, runID string, seq []string, roster map[string]types.Agent) (int, StopReason, error) {
	log := o.logger.With(zap.String("session_id", sessionID), zap.String("run_id", runID))
	rounds := 0

	for r := 0; ; r++ {
		if ctx.Err() != nil {
			return rounds, ReasonShutdown, nil
		}

		cancelled, err := o.token.IsCancelled(ctx, sessionID, runID)
		if err != nil {
			return rounds, o.failureReason(ctx), err
		}
		if cancelled {
			log.Info("workshop cancelled", zap.Int("round", r))
			return rounds, ReasonCancelled, nil
		}

		live, err := o.sessions.GetSession(ctx, sessionID)
		if errors.Is(err, persistence.ErrNotFound) {
			return rounds, ReasonSessionGone, nil
		}
		if err != nil {
			return rounds, o.failureReason(ctx), err
		}
		if r >= live.MaxRounds {
			return rounds, ReasonCompleted, nil
		}

		agent := roster[AgentAt(seq, r)]
		directive := directiveFor(live, agent.ID, r, o.config.BackgroundPlaceholder)
		seed := o.config.SeedText
		if last, ok := live.LastMessage(); ok {
			seed = last.Content
		}

		res, err := o.generate(ctx, &llm.GenerateRequest{
			Agent:     agent,
			History:   live.Messages,
			SeedText:  seed,
			Directive: directive,
		})
		if err != nil {
			log.Error("completion failed, ending workshop",
				zap.Int("round", r+1),
				zap.String("agent_id", agent.ID),
				zap.Error(err))
			return rounds, o.failureReason(ctx), err
		}

		msg := o.modelMessage(sessionID, agent, live.Messages, res)
		owned, exhausted := false, false
		updated, err := o.sessions.UpdateSession(ctx, sessionID, func(s *types.Session) error {
			if s.RunID != runID {
				owned = false
				return persistence.ErrSkipUpdate
			}
			owned = true
			// MaxRounds 可能在补全期间被调低
			exhausted = r >= s.MaxRounds
			if exhausted {
				return persistence.ErrSkipUpdate
			}
			s.Messages = append(s.Messages, msg)
			s.CurrentRound = r + 1
			return nil
		})
		if errors.Is(err, persistence.ErrNotFound) {
			return rounds, ReasonSessionGone, nil
		}
		if err != nil {
			return rounds, o.failureReason(ctx), err
		}
		if !owned {
			log.Info("run superseded, dropping result", zap.Int("round", r+1))
			return rounds, ReasonCancelled, nil
		}
		if exhausted {
			log.Info("max rounds lowered during round, dropping result", zap.Int("round", r+1))
			return rounds, ReasonCompleted, nil
		}

		rounds++
		o.status.update(sessionID, runID, func(st *RunStatus) { st.RoundsCompleted = rounds })
		if o.metrics != nil {
			o.metrics.RecordWorkshopRound(string(updated.Type))
		}
		log.Debug("round completed",
			zap.Int("round", r+1),
			zap.String("agent_id", agent.ID),
			zap.Int("max_rounds", updated.MaxRounds))

		if r+1 >= updated.MaxRounds {
			return rounds, ReasonCompleted, nil
		}
		if !sleep(ctx, o.config.RoundDelay) {
			return rounds, ReasonShutdown, nil
		}
	}
}

func (o *Orchestrator) runReply(ctx context.Context, sessionID, runID string, agent types.Agent, history []types.Message, text string) {
	defer o.wg.Done()

	start := time.Now()
	o.status.update(sessionID, runID, func(st *RunStatus) { st.State = StateRunning })

	rounds, reason, runErr := o.reply(ctx, sessionID, runID, agent, history, text)
	o.finish(ctx, KindReply, sessionID, runID, rounds, reason, runErr, start)
}

func (o *Orchestrator) reply(ctx context.Context, sessionID, runID string, agent types.Agent, history []types.Message, text string) (int, StopReason, error) {
	res, err := o.generate(ctx, &llm.GenerateRequest{
		Agent:    agent,
		History:  history,
		SeedText: text,
	})
	if err != nil {
		o.logger.Error("reply failed",
			zap.String("session_id", sessionID),
			zap.String("agent_id", agent.ID),
			zap.Error(err))
		return 0, o.failureReason(ctx), err
	}

	msg := o.modelMessage(sessionID, agent, history, res)
	owned := false
	_, err = o.sessions.UpdateSession(ctx, sessionID, func(s *types.Session) error {
		if s.RunID != runID {
			owned = false
			return persistence.ErrSkipUpdate
		}
		owned = true
		s.Messages = append(s.Messages, msg)
		return nil
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return 0, ReasonSessionGone, nil
	}
	if err != nil {
		return 0, o.failureReason(ctx), err
	}
	if !owned {
		return 0, ReasonCancelled, nil
	}
	return 1, ReasonCompleted, nil
}

// finish clears the run flag and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, kind RunKind, sessionID, runID string, rounds int, reason StopReason, runErr error, start time.Time) {
	if gone := o.clearRunFlag(ctx, sessionID, runID); gone && reason == ReasonCancelled {
		reason = ReasonSessionGone
	}

	o.setActive(o.status.finish(sessionID, runID, reason, runErr))
	if o.metrics != nil {
		o.metrics.RecordWorkshopRun(string(kind), string(reason), rounds, time.Since(start))
	}

	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("run_id", runID),
		zap.String("kind", string(kind)),
		zap.String("reason", string(reason)),
		zap.Int("rounds", rounds),
		zap.Duration("duration", time.Since(start)),
	}
	if runErr != nil {
		o.logger.Warn("run ended with error", append(fields, zap.Error(runErr))...)
		return
	}
	o.logger.Info("run ended", fields...)
}

// clearRunFlag releases the run flag if runID still owns it. It reports
// whether the session no longer exists.
func (o *Orchestrator) clearRunFlag(ctx context.Context, sessionID, runID string) bool {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()

	_, err := o.sessions.UpdateSession(cctx, sessionID, func(s *types.Session) error {
		if s.RunID != runID {
			return persistence.ErrSkipUpdate
		}
		s.IsRunning = false
		s.RunID = ""
		return nil
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return true
	}
	if err != nil {
		o.logger.Error("failed to clear run flag",
			zap.String("session_id", sessionID),
			zap.String("run_id", runID),
			zap.Error(err))
	}
	return false
}

// =============================================================================
// 辅助
// =============================================================================

func (o *Orchestrator) generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	if o.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.ProviderTimeout)
		defer cancel()
	}
	res, err := o.provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, types.NewError(types.ErrMalformedOutput, "provider returned no result").WithProvider(o.provider.Name())
	}
	return res, nil
}

func (o *Orchestrator) modelMessage(sessionID string, agent types.Agent, history []types.Message, res *llm.GenerateResult) types.Message {
	msg := types.NewModelMessage(o.newID(), sessionID, agent, res.Content)
	msg.MemoriesUsed = types.RecentMessageIDs(history, o.config.MemoryWindow)
	if len(res.ReferencedIDs) > 0 {
		msg.MemoriesUsed = append([]string(nil), res.ReferencedIDs...)
	}
	msg.RawRequest = res.RawRequest
	msg.RawResponse = res.RawResponse
	return msg
}

// resolveAgents loads the roster once, dropping ids that no longer exist.
func (o *Orchestrator) resolveAgents(ctx context.Context, ids []string) (map[string]types.Agent, error) {
	roster := make(map[string]types.Agent, len(ids))
	for _, id := range ids {
		a, err := o.agents.GetAgent(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			o.logger.Warn("skipping unknown participant", zap.String("agent_id", id))
			continue
		}
		if err != nil {
			return nil, types.NewInternalError("failed to load agents").WithCause(err)
		}
		roster[id] = *a
	}
	return roster, nil
}

// replyAgent picks the SINGLE-mode responder, falling back to the first
// agent of the caller's roster.
func (o *Orchestrator) replyAgent(ctx context.Context, sess *types.Session) (*types.Agent, error) {
	if len(sess.AgentIDs) > 0 {
		a, err := o.agents.GetAgent(ctx, sess.AgentIDs[0])
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return nil, types.NewInternalError("failed to load agent").WithCause(err)
		}
	}
	list, err := o.agents.ListAgents(ctx, sess.UserID)
	if err != nil {
		return nil, types.NewInternalError("failed to load agents").WithCause(err)
	}
	if len(list) == 0 {
		return nil, types.NewPreconditionError("no agent available to reply")
	}
	return list[0], nil
}

// track registers a run goroutine unless the orchestrator is closing.
func (o *Orchestrator) track() (context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, false
	}
	o.wg.Add(1)
	return o.baseCtx, true
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) setActive(n int) {
	if o.metrics != nil {
		o.metrics.SetActiveWorkshops(n)
	}
}

func (o *Orchestrator) failureReason(ctx context.Context) StopReason {
	if ctx.Err() != nil {
		return ReasonShutdown
	}
	return ReasonFailed
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func storeError(err error, sessionID string) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return types.NewNotFoundError(fmt.Sprintf("session %s not found", sessionID))
	case errors.Is(err, persistence.ErrConflict):
		return types.NewBusyError("session is being modified concurrently").WithCause(err)
	default:
		if _, ok := types.AsError(err); ok {
			return err
		}
		return types.NewInternalError("session store failure").WithCause(err)
	}
}

func serviceClosed() error {
	return types.NewError(types.ErrServiceUnavailable, "orchestrator is shutting down").
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithCause(ErrClosed)
}
