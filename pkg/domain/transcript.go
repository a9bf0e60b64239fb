package domain

// MessageType enumerates the JSONL line kinds the source transcript corpus
// emits. Only user/assistant lines produce TranscriptMessage rows; the rest
// are session-level metadata or are skipped entirely (spec §4.G stage 3).
type MessageType string

// MessageType values.
const (
	MessageTypeUser                MessageType = "user"
	MessageTypeAssistant           MessageType = "assistant"
	MessageTypeSystem              MessageType = "system"
	MessageTypeSummary             MessageType = "summary"
	MessageTypeProgress            MessageType = "progress"
	MessageTypeFileHistorySnapshot MessageType = "file-history-snapshot"
	MessageTypeQueueOperation      MessageType = "queue-operation"
)

// ProducesRow reports whether this message type yields a persisted
// TranscriptMessage row.
func (t MessageType) ProducesRow() bool {
	return t == MessageTypeUser || t == MessageTypeAssistant
}

// TranscriptMessage is one persisted row per JSONL line that produced a
// user/assistant turn.
type TranscriptMessage struct {
	ID              string
	SessionID       string
	LineNumber      int
	Ordinal         int // strictly monotonic per session, starting at 1
	MessageType     MessageType
	Role            string
	Model           string
	TokensIn        int64
	TokensOut       int64
	CacheReadIn     int64
	CacheWriteIn    int64
	CostUSD         float64
	CompactSequence int
	IsCompacted     bool
	HasText         bool
	HasThinking     bool
	HasToolUse      bool
	HasToolResult   bool
}

// ContentBlockType enumerates the semantic block kinds inside a message.
type ContentBlockType string

// ContentBlockType values.
const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockThinking   ContentBlockType = "thinking"
	ContentBlockToolUse    ContentBlockType = "tool_use"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// InlineResultLimit is the byte threshold above which a tool_result's
// ResultText is offloaded to the Object Store instead of inlined (spec §4.G
// stage 3: "if result_text <= 64 KiB inline it").
const InlineResultLimit = 64 * 1024

// ContentBlock is one semantic block inside a TranscriptMessage.
type ContentBlock struct {
	ID           string
	MessageID    string
	SessionID    string
	BlockOrder   int // per-message monotonic
	Type         ContentBlockType
	ContentText  string
	ThinkingText string
	ToolName     string
	ToolUseID    string
	ToolInput    map[string]any
	ResultText   string  // inline if len <= InlineResultLimit
	ResultS3Key  *string // set when offloaded
}

// TranscriptStats is the aggregate computed while parsing a transcript,
// persisted onto the session row once parsing completes.
type TranscriptStats struct {
	MessageCount     int
	ToolUseCount     int
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
	DurationMs       int64
	InitialPrompt    *string
	ParseErrors      []ParseLineError
}

// ParseLineError records a JSONL line that failed to parse. It does not
// abort the run (spec §4.G stage 3).
type ParseLineError struct {
	LineNumber int    `json:"line_number"`
	Error      string `json:"error"`
}
