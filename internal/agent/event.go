package agent

// Stage is the part of the loop that produced an event.
type Stage int

const (
	// StageAgent events come from the model.
	StageAgent Stage = iota
	// StageTools events come from tool execution.
	StageTools
)

// Kind is what an event carries.
type Kind int

const (
	// KindUnknown events are skipped by consumers.
	KindUnknown Kind = iota
	// KindText is streamed model text.
	KindText
	// KindToolCall fires when the model invokes a tool.
	KindToolCall
	// KindToolResult carries a tool's output.
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindToolCall:
		return "tool_call"
	case KindToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Event is one step of a streamed agent run. A non-nil Err is always the
// last event before the channel closes.
type Event struct {
	Stage Stage
	Kind  Kind
	// Text is the model text for KindText and the tool output for
	// KindToolResult.
	Text string
	// ToolName and ToolLabel identify the tool for KindToolCall and
	// KindToolResult.
	ToolName  string
	ToolLabel string
	Err       error
}
