// MockProvider 是补全 Provider 的测试模拟实现。
//
// 支持固定响应、逐次脚本、延迟、阻塞与错误注入场景。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/nexus/llm"
	"github.com/BaSui01/nexus/types"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.CompletionProvider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	response string
	script   []string
	err      error

	// 行为控制
	delay     time.Duration
	failOn    int // 第 N 次调用失败（从 1 开始）
	gate      chan struct{}
	started   chan struct{}
	genFunc   func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error)
	callCount int

	// 调用记录
	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request *llm.GenerateRequest
	Result  *llm.GenerateResult
	Error   error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{response: "Mock response"}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithScript 设置逐次响应，用完后回落到固定响应
func (m *MockProvider) WithScript(responses ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]string(nil), responses...)
	return m
}

// WithError 设置每次调用都返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailOn 第 n 次调用返回上游错误（从 1 开始）
func (m *MockProvider) WithFailOn(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = n
	return m
}

// WithDelay 设置每次调用的延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithGate 让每次调用阻塞，直到 Release 被调用。
// Started 返回的通道在每次调用进入阻塞时收到一个信号。
func (m *MockProvider) WithGate() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.started = make(chan struct{}, 64)
	return m
}

// WithGenerateFunc 自定义调用逻辑
func (m *MockProvider) WithGenerateFunc(fn func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genFunc = fn
	return m
}

// Release 放行一次被阻塞的调用
func (m *MockProvider) Release() {
	m.mu.RLock()
	gate := m.gate
	m.mu.RUnlock()
	if gate != nil {
		gate <- struct{}{}
	}
}

// Started 返回调用进入阻塞的信号通道
func (m *MockProvider) Started() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// --- Provider 接口实现 ---

// Name 实现 llm.CompletionProvider
func (m *MockProvider) Name() string {
	return "mock"
}

// Generate 实现 llm.CompletionProvider
func (m *MockProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	delay, gate, started, fn := m.delay, m.gate, m.started, m.genFunc
	m.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, m.record(req, nil, ctx.Err())
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, m.record(req, nil, ctx.Err())
		}
	}

	if fn != nil {
		res, err := fn(ctx, req)
		return res, m.record(req, res, err)
	}

	m.mu.Lock()
	err := m.err
	if m.failOn > 0 && n == m.failOn {
		err = types.NewError(types.ErrUpstreamError, fmt.Sprintf("mock failure on call %d", n)).WithProvider("mock")
	}
	content := m.response
	if n <= len(m.script) {
		content = m.script[n-1]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, m.record(req, nil, err)
	}
	res := &llm.GenerateResult{Content: content}
	return res, m.record(req, res, nil)
}

func (m *MockProvider) record(req *llm.GenerateRequest, res *llm.GenerateResult, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.calls = append(m.calls, MockProviderCall{Request: &cp, Result: res, Error: err})
	return err
}

// --- 查询方法 ---

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}
