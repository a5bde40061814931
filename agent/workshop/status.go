package workshop

import (
	"sync"
	"time"
)

// RunState 编排运行状态
type RunState string

const (
	StateIdle     RunState = "IDLE"
	StateStarting RunState = "STARTING"
	StateRunning  RunState = "RUNNING"
	StateStopped  RunState = "STOPPED"
)

// StopReason 运行结束的原因
type StopReason string

const (
	ReasonCompleted   StopReason = "completed"
	ReasonCancelled   StopReason = "cancelled"
	ReasonFailed      StopReason = "failed"
	ReasonSessionGone StopReason = "session_gone"
	ReasonShutdown    StopReason = "shutdown"
)

// RunKind 区分编排循环与单次发送
type RunKind string

const (
	KindWorkshop RunKind = "workshop"
	KindReply    RunKind = "reply"
)

// RunStatus 某个会话最近一次运行的快照
type RunStatus struct {
	SessionID       string     `json:"session_id"`
	RunID           string     `json:"run_id,omitempty"`
	Kind            RunKind    `json:"kind,omitempty"`
	State           RunState   `json:"state"`
	RoundsCompleted int        `json:"rounds_completed"`
	Reason          StopReason `json:"reason,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	StartedAt       time.Time  `json:"started_at,omitempty"`
	FinishedAt      time.Time  `json:"finished_at,omitempty"`
}

// statusBoard 保存每个会话最近一次运行的状态
type statusBoard struct {
	mu     sync.RWMutex
	byID   map[string]*RunStatus
	active int
}

func newStatusBoard() *statusBoard {
	return &statusBoard{byID: make(map[string]*RunStatus)}
}

func (b *statusBoard) get(sessionID string) RunStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.byID[sessionID]; ok {
		return *st
	}
	return RunStatus{SessionID: sessionID, State: StateIdle}
}

// begin records a new run in STARTING and returns the active run count.
func (b *statusBoard) begin(sessionID, runID string, kind RunKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byID[sessionID] = &RunStatus{
		SessionID: sessionID,
		RunID:     runID,
		Kind:      kind,
		State:     StateStarting,
		StartedAt: time.Now(),
	}
	b.active++
	return b.active
}

// update mutates the status only while runID still owns it.
func (b *statusBoard) update(sessionID, runID string, fn func(*RunStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.byID[sessionID]; ok && st.RunID == runID {
		fn(st)
	}
}

// finish closes the run and returns the active run count.
func (b *statusBoard) finish(sessionID, runID string, reason StopReason, err error) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active--
	if st, ok := b.byID[sessionID]; ok && st.RunID == runID {
		st.State = StateStopped
		st.Reason = reason
		st.FinishedAt = time.Now()
		if err != nil {
			st.LastError = err.Error()
		}
	}
	return b.active
}

func (b *statusBoard) delete(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byID, sessionID)
}
