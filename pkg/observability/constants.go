package observability

const (
	AttrSessionID      = "session.id"
	AttrToolName       = "tool.name"
	AttrLLMModel       = "llm.model"
	AttrCompactionMode = "compaction.mode"
	AttrErrorType      = "error.type"

	SpanAgentTurn     = "agent.turn"
	SpanLLMRequest    = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"
	SpanCompactionRun = "compaction.run"

	DefaultServiceName = "deepsense"
)
