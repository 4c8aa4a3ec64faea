package domain

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of model-facing memory. Sessions persist these as
// JSON, so the tags are part of the on-disk format.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Name      string     `json:"name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Turn is one user-facing exchange. It is never edited once recorded; a
// transcript is only cleared as a whole.
type Turn struct {
	ID            string    `json:"id"`
	UserText      string    `json:"user_text"`
	AgentResponse string    `json:"agent_response"`
	ToolsUsed     []string  `json:"tools_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
