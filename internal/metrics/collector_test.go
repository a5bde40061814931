package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/workshop"
	"github.com/BaSui01/nexus/llm"
)

// 编译期检查 Collector 满足注入点的接口
var (
	_ llm.Recorder     = (*Collector)(nil)
	_ workshop.Metrics = (*Collector)(nil)
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.workshopRunsTotal)
	assert.NotNil(t, collector.workshopActive)

	// 独立 Registry 可以重复创建同名指标
	_, err := reg.Gather()
	require.NoError(t, err)
	assert.NotPanics(t, func() { newTestCollector(t) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/api/v1/sessions", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/sessions", 204, 50*time.Millisecond, 0, 0)
	collector.RecordHTTPRequest("POST", "/api/v1/sessions", 412, 10*time.Millisecond, 64, 128)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/sessions", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/sessions", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestDuration))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordLLMRequest("gemini", "gemini-3-flash-preview", "success", 500*time.Millisecond, 100, 50)
	collector.RecordLLMRequest("gemini", "gemini-3-flash-preview", "RATE_LIMIT", 20*time.Millisecond, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("gemini", "gemini-3-flash-preview", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("gemini", "gemini-3-flash-preview", "RATE_LIMIT")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("gemini", "gemini-3-flash-preview", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("gemini", "gemini-3-flash-preview", "completion")))
}

func TestCollector_WorkshopMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.SetActiveWorkshops(2)
	collector.RecordWorkshopRound("MULTI")
	collector.RecordWorkshopRound("MULTI")
	collector.RecordWorkshopRound("DUAL")
	collector.RecordWorkshopRun("workshop", "completed", 12, 30*time.Second)
	collector.RecordWorkshopRun("workshop", "cancelled", 3, 5*time.Second)
	collector.RecordWorkshopRun("reply", "failed", 0, time.Second)
	collector.SetActiveWorkshops(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.workshopRoundsTotal.WithLabelValues("MULTI")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workshopRoundsTotal.WithLabelValues("DUAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workshopRunsTotal.WithLabelValues("workshop", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workshopRunsTotal.WithLabelValues("reply", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.workshopActive))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.workshopRunRounds))
}

func TestCollector_StreamGauge(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.StreamOpened()
	collector.StreamOpened()
	collector.StreamClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.eventSubscribers))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordDBConnections("postgres", 10, 5)
	collector.RecordDBConnections("postgres", 12, 3)

	assert.Equal(t, 12.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 100, 200)
				collector.RecordWorkshopRound("MULTI")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.workshopRoundsTotal.WithLabelValues("MULTI")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
