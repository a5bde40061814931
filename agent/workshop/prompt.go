package workshop

import (
	"fmt"

	"github.com/BaSui01/nexus/types"
)

// DefaultBackgroundPlaceholder 会话没有共同背景时使用
const DefaultBackgroundPlaceholder = "discussion in progress"

// DirectiveInput 合成本轮指令所需的会话数据
type DirectiveInput struct {
	Type       types.SessionType
	DualMode   types.DualMode
	Background string
	// Specific 发言 Agent 的私有指令，可为空
	Specific  string
	Round     int // 从 1 开始
	MaxRounds int

	// Placeholder 覆盖 DefaultBackgroundPlaceholder
	Placeholder string
}

// BuildDirective 按会话模式生成本轮系统指令
func BuildDirective(in DirectiveInput) string {
	bg := in.Background
	if bg == "" {
		bg = in.Placeholder
		if bg == "" {
			bg = DefaultBackgroundPlaceholder
		}
	}

	switch {
	case in.Type == types.SessionMulti:
		return fmt.Sprintf("[roundtable mode] shared topic: %s\nparticipate in the discussion. round: %d/%d",
			bg, in.Round, in.MaxRounds)
	case in.Type == types.SessionDual && in.DualMode == types.DualDebate:
		return fmt.Sprintf("[adversarial debate mode] current topic: %s\nyour specific debate task: %s\nrebut, challenge, or deepen the prior argument. stay in character. round: %d",
			bg, in.Specific, in.Round)
	case in.Type == types.SessionDual && in.DualMode == types.DualRoleplay:
		return fmt.Sprintf("[narrative roleplay mode] scenario background: %s\nyour specific task/stance in this scene: %s\ninteract with other characters, advance the plot, stay consistent, pursue your goal. round: %d",
			bg, in.Specific, in.Round)
	default:
		return fmt.Sprintf("shared background: %s\nyour specific stance: %s\ncurrent round: %d/%d",
			bg, in.Specific, in.Round, in.MaxRounds)
	}
}

// directiveFor builds the directive for round r (0-based) of a live session.
func directiveFor(s *types.Session, agentID string, r int, placeholder string) string {
	return BuildDirective(DirectiveInput{
		Type:        s.Type,
		DualMode:    s.DualMode,
		Background:  s.BackgroundContext,
		Specific:    s.AgentSpecificPrompts[agentID],
		Round:       r + 1,
		MaxRounds:   s.MaxRounds,
		Placeholder: placeholder,
	})
}
