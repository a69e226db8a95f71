package protocol

// Response statuses.
const (
	ResponseInProgress = "in_progress"
	ResponseCompleted  = "completed"
	ResponseCancelled  = "cancelled"
	ResponseIncomplete = "incomplete"
	ResponseFailed     = "failed"
)

// Reasons carried in status_details.
const (
	ReasonTurnDetected       = "turn_detected"
	ReasonClientCancelled    = "client_cancelled"
	ReasonMaxOutputTokens    = "max_output_tokens"
	ReasonClientDisconnected = "client_disconnected"
	ReasonSessionTerminated  = "session_terminated"
	ReasonContentFilter      = "content_filter"
)

// Response is the response resource carried by response.created and
// response.done.
type Response struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Status            string            `json:"status"`
	StatusDetails     *StatusDetails    `json:"status_details"`
	Output            []Item            `json:"output"`
	ConversationID    string            `json:"conversation_id,omitempty"`
	Modalities        []string          `json:"modalities,omitempty"`
	Voice             string            `json:"voice,omitempty"`
	OutputAudioFormat string            `json:"output_audio_format,omitempty"`
	Temperature       float64           `json:"temperature,omitempty"`
	MaxOutputTokens   MaxTokens         `json:"max_output_tokens"`
	Usage             *Usage            `json:"usage"`
	Metadata          map[string]string `json:"metadata"`
}

// StatusDetails explains a non-completed terminal status.
type StatusDetails struct {
	Type   string       `json:"type"`
	Reason string       `json:"reason,omitempty"`
	Error  *StatusError `json:"error,omitempty"`
}

// StatusError is the error of a failed response.
type StatusError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Usage is the token accounting of a finished response.
type Usage struct {
	TotalTokens        int                `json:"total_tokens"`
	InputTokens        int                `json:"input_tokens"`
	OutputTokens       int                `json:"output_tokens"`
	InputTokenDetails  InputTokenDetails  `json:"input_token_details"`
	OutputTokenDetails OutputTokenDetails `json:"output_token_details"`
}

// InputTokenDetails splits input tokens by modality.
type InputTokenDetails struct {
	CachedTokens int `json:"cached_tokens"`
	TextTokens   int `json:"text_tokens"`
	AudioTokens  int `json:"audio_tokens"`
}

// OutputTokenDetails splits output tokens by modality.
type OutputTokenDetails struct {
	TextTokens  int `json:"text_tokens"`
	AudioTokens int `json:"audio_tokens"`
}

// RateLimit is one bucket snapshot in rate_limits.updated.
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// Response conversation modes.
const (
	ConversationAuto = "auto"
	ConversationNone = "none"
)

// ResponseParams are the per-response overrides of response.create. Nil
// fields inherit the session value.
type ResponseParams struct {
	Modalities              []string          `json:"modalities"`
	Instructions            *string           `json:"instructions"`
	Voice                   *string           `json:"voice"`
	OutputAudioFormat       *string           `json:"output_audio_format"`
	Tools                   *[]Tool           `json:"tools"`
	ToolChoice              *ToolChoice       `json:"tool_choice"`
	Temperature             *float64          `json:"temperature"`
	MaxOutputTokens         *MaxTokens        `json:"max_output_tokens"`
	MaxResponseOutputTokens *MaxTokens        `json:"max_response_output_tokens"`
	Conversation            *string           `json:"conversation"`
	Metadata                map[string]string `json:"metadata"`
	Input                   []Item            `json:"input"`
}
