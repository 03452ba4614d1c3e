package models

// Plugin is a named tool/capability selection attached to a turn.
type Plugin string

const (
	PluginNone         Plugin = "none"
	PluginBrowser      Plugin = "browser"
	PluginWebSearch    Plugin = "websearch"
	PluginTerminal     Plugin = "terminal"
	PluginDeepResearch Plugin = "deepresearch"
)

// Valid reports whether p is a known plugin selection.
func (p Plugin) Valid() bool {
	switch p {
	case PluginNone, PluginBrowser, PluginWebSearch, PluginTerminal, PluginDeepResearch:
		return true
	}
	return false
}

// Tier is the subscription tier governing quotas and token ceilings.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Premium reports whether the tier carries premium quotas.
func (t Tier) Premium() bool { return t == TierPremium }

// User is the authenticated principal attached to a request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Tier  Tier   `json:"tier,omitempty"`
}

// AgentMode controls whether shell execution requires per-command
// confirmation or runs autonomously.
type AgentMode string

const (
	AgentModeAskEveryTime AgentMode = "ask-every-time"
	AgentModeAutoRun      AgentMode = "auto-run"
)

// FinishReason is the terminal status of a chat turn.
type FinishReason string

const (
	FinishStop            FinishReason = "stop"
	FinishAborted         FinishReason = "aborted"
	FinishAskUser         FinishReason = "message_ask_user"
	FinishIdle            FinishReason = "idle"
	FinishRefusal         FinishReason = "refusal"
	FinishTerminalAskUser FinishReason = "terminal_command_ask_user"
)

// AgentStatus is the human-readable phase the agent streams while a tool
// runs.
type AgentStatus string

const (
	StatusTerminal     AgentStatus = "terminal"
	StatusShellWait    AgentStatus = "shell_wait"
	StatusFileRead     AgentStatus = "file_read"
	StatusCreatingFile AgentStatus = "creating_file"
	StatusEditingFile  AgentStatus = "editing_file"
	StatusSearchingWeb AgentStatus = "searching_web"
	StatusBrowsing     AgentStatus = "browsing"
	StatusThinking     AgentStatus = "thinking"
	StatusDone         AgentStatus = "done"
)
