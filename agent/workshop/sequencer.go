package workshop

import (
	"slices"

	"github.com/BaSui01/nexus/types"
)

// TurnSequence 计算会话的循环发言顺序，返回新切片。
// 仅 DUAL 模式考虑先手：firstSpeakerID 在列表中且不在首位时移到最前，
// 其余相对顺序不变。先手不在列表中视为过期引用，顺序不变。
func TurnSequence(mode types.SessionType, agentIDs []string, firstSpeakerID string) []string {
	seq := slices.Clone(agentIDs)
	if mode != types.SessionDual || firstSpeakerID == "" {
		return seq
	}
	idx := slices.Index(seq, firstSpeakerID)
	if idx <= 0 {
		return seq
	}
	out := make([]string, 0, len(seq))
	out = append(out, firstSpeakerID)
	out = append(out, seq[:idx]...)
	return append(out, seq[idx+1:]...)
}

// AgentAt returns the agent acting in round r (0-based).
func AgentAt(seq []string, r int) string {
	if len(seq) == 0 {
		return ""
	}
	return seq[r%len(seq)]
}
