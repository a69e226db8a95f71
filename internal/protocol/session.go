package protocol

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/rtvoice/pkg/audio"
)

// Modalities.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Turn detection types.
const (
	TurnServerVAD   = "server_vad"
	TurnSemanticVAD = "semantic_vad"
)

// Semantic VAD eagerness levels.
const (
	EagernessLow    = "low"
	EagernessMedium = "medium"
	EagernessHigh   = "high"
	EagernessAuto   = "auto"
)

// Server VAD defaults.
const (
	DefaultThreshold         = 0.5
	DefaultPrefixPaddingMs   = 300
	DefaultSilenceDurationMs = 500

	maxWindowMs = 10_000
	maxTokens   = 4096
)

// TurnDetection configures voice activity detection. A nil *TurnDetection in
// a Session means manual commit mode.
type TurnDetection struct {
	Type              string
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	Eagerness         string
	CreateResponse    bool
	InterruptResponse bool
}

// MarshalJSON emits the fields that apply to the detection type.
func (t TurnDetection) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type":               t.Type,
		"create_response":    t.CreateResponse,
		"interrupt_response": t.InterruptResponse,
	}
	if t.Type == TurnSemanticVAD {
		m["eagerness"] = t.Eagerness
	} else {
		m["threshold"] = t.Threshold
		m["prefix_padding_ms"] = t.PrefixPaddingMs
		m["silence_duration_ms"] = t.SilenceDurationMs
	}
	return json.Marshal(m)
}

// TurnDetectionParams is the wire form of turn_detection in updates. Absent
// fields take the defaults of the selected type.
type TurnDetectionParams struct {
	Type              *string  `json:"type"`
	Threshold         *float64 `json:"threshold"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms"`
	SilenceDurationMs *int     `json:"silence_duration_ms"`
	Eagerness         *string  `json:"eagerness"`
	CreateResponse    *bool    `json:"create_response"`
	InterruptResponse *bool    `json:"interrupt_response"`
}

// Resolve fills defaults and validates. Params are reported relative to
// prefix (e.g. "session.turn_detection").
func (p TurnDetectionParams) Resolve(prefix string) (*TurnDetection, *Error) {
	td := &TurnDetection{
		Type:              TurnServerVAD,
		Threshold:         DefaultThreshold,
		PrefixPaddingMs:   DefaultPrefixPaddingMs,
		SilenceDurationMs: DefaultSilenceDurationMs,
		Eagerness:         EagernessAuto,
		CreateResponse:    true,
		InterruptResponse: true,
	}
	if p.Type != nil {
		td.Type = *p.Type
	}
	switch td.Type {
	case TurnServerVAD, TurnSemanticVAD:
	default:
		return nil, InvalidRequest(CodeInvalidValue, "Invalid turn detection type %q. Supported values are: %q and %q.", td.Type, TurnServerVAD, TurnSemanticVAD).
			WithParam(prefix + ".type")
	}
	if td.Type == TurnSemanticVAD && (p.Threshold != nil || p.PrefixPaddingMs != nil || p.SilenceDurationMs != nil) {
		return nil, InvalidRequest(CodeUnknownParameter, "semantic_vad does not accept threshold, prefix_padding_ms or silence_duration_ms.").
			WithParam(prefix)
	}
	if td.Type == TurnServerVAD && p.Eagerness != nil {
		return nil, InvalidRequest(CodeUnknownParameter, "server_vad does not accept eagerness.").
			WithParam(prefix + ".eagerness")
	}

	if p.Threshold != nil {
		if *p.Threshold < 0 || *p.Threshold > 1 {
			return nil, InvalidRequest(CodeInvalidValue, "Invalid threshold %v. Expected a value between 0.0 and 1.0.", *p.Threshold).
				WithParam(prefix + ".threshold")
		}
		td.Threshold = *p.Threshold
	}
	if p.PrefixPaddingMs != nil {
		if *p.PrefixPaddingMs < 0 || *p.PrefixPaddingMs > maxWindowMs {
			return nil, InvalidRequest(CodeInvalidValue, "Invalid prefix_padding_ms %d. Expected 0 to %d.", *p.PrefixPaddingMs, maxWindowMs).
				WithParam(prefix + ".prefix_padding_ms")
		}
		td.PrefixPaddingMs = *p.PrefixPaddingMs
	}
	if p.SilenceDurationMs != nil {
		if *p.SilenceDurationMs < 0 || *p.SilenceDurationMs > maxWindowMs {
			return nil, InvalidRequest(CodeInvalidValue, "Invalid silence_duration_ms %d. Expected 0 to %d.", *p.SilenceDurationMs, maxWindowMs).
				WithParam(prefix + ".silence_duration_ms")
		}
		td.SilenceDurationMs = *p.SilenceDurationMs
	}
	if p.Eagerness != nil {
		switch *p.Eagerness {
		case EagernessLow, EagernessMedium, EagernessHigh, EagernessAuto:
			td.Eagerness = *p.Eagerness
		default:
			return nil, InvalidRequest(CodeInvalidValue, "Invalid eagerness %q. Supported values are: low, medium, high, auto.", *p.Eagerness).
				WithParam(prefix + ".eagerness")
		}
	}
	if p.CreateResponse != nil {
		td.CreateResponse = *p.CreateResponse
	}
	if p.InterruptResponse != nil {
		td.InterruptResponse = *p.InterruptResponse
	}
	return td, nil
}

// Transcription configures input audio transcription.
type Transcription struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// NoiseReduction configures input noise reduction.
type NoiseReduction struct {
	Type string `json:"type"`
}

// Tool is a function the model may call. The client executes it.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
	ToolChoiceFunction = "function"
)

// ToolChoice is either a mode string or {"type":"function","name":...}.
type ToolChoice struct {
	Mode     string
	Function string
}

// MarshalJSON implements json.Marshaler.
func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.Mode == ToolChoiceFunction {
		return json.Marshal(map[string]string{"type": ToolChoiceFunction, "name": c.Function})
	}
	mode := c.Mode
	if mode == "" {
		mode = ToolChoiceAuto
	}
	return json.Marshal(mode)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		*c = ToolChoice{Mode: mode}
		return nil
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = ToolChoice{Mode: obj.Type, Function: obj.Name}
	return nil
}

// MaxTokens is an output token cap. Zero means "inf".
type MaxTokens int

// MarshalJSON implements json.Marshaler.
func (m MaxTokens) MarshalJSON() ([]byte, error) {
	if m <= 0 {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(int(m))
}

// UnmarshalJSON accepts an integer or the string "inf". Range checks happen
// during validation so the error can name the field.
func (m *MaxTokens) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "inf" {
			return fmt.Errorf("max tokens: expected integer or \"inf\", got %q", s)
		}
		*m = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n <= 0 {
		n = -1
	}
	*m = MaxTokens(n)
	return nil
}

// Session is the full session resource as it appears in session.created and
// session.updated.
type Session struct {
	ID                       string          `json:"id"`
	Object                   string          `json:"object"`
	Model                    string          `json:"model"`
	ExpiresAt                int64           `json:"expires_at,omitempty"`
	Modalities               []string        `json:"modalities"`
	Instructions             string          `json:"instructions"`
	Voice                    string          `json:"voice"`
	InputAudioFormat         string          `json:"input_audio_format"`
	OutputAudioFormat        string          `json:"output_audio_format"`
	InputAudioTranscription  *Transcription  `json:"input_audio_transcription"`
	TurnDetection            *TurnDetection  `json:"turn_detection"`
	InputAudioNoiseReduction *NoiseReduction `json:"input_audio_noise_reduction"`
	Tools                    []Tool          `json:"tools"`
	ToolChoice               ToolChoice      `json:"tool_choice"`
	Temperature              float64         `json:"temperature"`
	MaxResponseOutputTokens  MaxTokens       `json:"max_response_output_tokens"`
	ClientSecret             *ClientSecret   `json:"client_secret,omitempty"`
}

// ClientSecret is the ephemeral credential returned by the REST companion.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// DefaultSession returns the built-in defaults for model.
func DefaultSession(model string) Session {
	return Session{
		Object:            "realtime.session",
		Model:             model,
		Modalities:        []string{ModalityText, ModalityAudio},
		Voice:             "alloy",
		InputAudioFormat:  audio.PCM16.String(),
		OutputAudioFormat: audio.PCM16.String(),
		TurnDetection: &TurnDetection{
			Type:              TurnServerVAD,
			Threshold:         DefaultThreshold,
			PrefixPaddingMs:   DefaultPrefixPaddingMs,
			SilenceDurationMs: DefaultSilenceDurationMs,
			Eagerness:         EagernessAuto,
			CreateResponse:    true,
			InterruptResponse: true,
		},
		Tools:       []Tool{},
		ToolChoice:  ToolChoice{Mode: ToolChoiceAuto},
		Temperature: 0.8,
	}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	c := s
	c.Modalities = slices.Clone(s.Modalities)
	c.Tools = slices.Clone(s.Tools)
	if c.Tools == nil {
		c.Tools = []Tool{}
	}
	if s.InputAudioTranscription != nil {
		t := *s.InputAudioTranscription
		c.InputAudioTranscription = &t
	}
	if s.TurnDetection != nil {
		t := *s.TurnDetection
		c.TurnDetection = &t
	}
	if s.InputAudioNoiseReduction != nil {
		n := *s.InputAudioNoiseReduction
		c.InputAudioNoiseReduction = &n
	}
	if s.ClientSecret != nil {
		cs := *s.ClientSecret
		c.ClientSecret = &cs
	}
	return c
}

// HasModality reports whether m is enabled.
func (s Session) HasModality(m string) bool { return slices.Contains(s.Modalities, m) }

// InputFormat resolves the input audio format. Sessions are validated on
// every update, so the lookup cannot fail for a stored session.
func (s Session) InputFormat() audio.WireFormat {
	f, _ := audio.ParseWireFormat(s.InputAudioFormat)
	return f
}

// OutputFormat resolves the output audio format.
func (s Session) OutputFormat() audio.WireFormat {
	f, _ := audio.ParseWireFormat(s.OutputAudioFormat)
	return f
}

// SessionUpdate is the partial configuration carried by session.update and
// the REST create call. Nil and unset fields leave the current value alone.
type SessionUpdate struct {
	Model                    *string                       `json:"model"`
	Modalities               []string                      `json:"modalities"`
	Instructions             *string                       `json:"instructions"`
	Voice                    *string                       `json:"voice"`
	InputAudioFormat         *string                       `json:"input_audio_format"`
	OutputAudioFormat        *string                       `json:"output_audio_format"`
	InputAudioTranscription  Nullable[Transcription]       `json:"input_audio_transcription"`
	TurnDetection            Nullable[TurnDetectionParams] `json:"turn_detection"`
	InputAudioNoiseReduction Nullable[NoiseReduction]      `json:"input_audio_noise_reduction"`
	Tools                    *[]Tool                       `json:"tools"`
	ToolChoice               *ToolChoice                   `json:"tool_choice"`
	Temperature              *float64                      `json:"temperature"`
	MaxResponseOutputTokens  *MaxTokens                    `json:"max_response_output_tokens"`
	MaxOutputTokens          *MaxTokens                    `json:"max_output_tokens"`
}

// Apply merges u into s and returns the result. On error s is untouched and
// the error names the offending field relative to prefix ("session").
func (s Session) Apply(u SessionUpdate, prefix string) (Session, *Error) {
	out := s.Clone()
	p := func(field string) string { return prefix + "." + field }

	if u.Model != nil {
		if strings.TrimSpace(*u.Model) == "" {
			return s, InvalidRequest(CodeInvalidValue, "Model must not be empty.").WithParam(p("model"))
		}
		out.Model = *u.Model
	}
	if u.Modalities != nil {
		if err := validateModalities(u.Modalities); err != nil {
			return s, err.WithParam(p("modalities"))
		}
		out.Modalities = slices.Clone(u.Modalities)
	}
	if u.Instructions != nil {
		out.Instructions = *u.Instructions
	}
	if u.Voice != nil {
		if strings.TrimSpace(*u.Voice) == "" {
			return s, InvalidRequest(CodeInvalidValue, "Voice must not be empty.").WithParam(p("voice"))
		}
		out.Voice = *u.Voice
	}
	if u.InputAudioFormat != nil {
		if _, err := audio.ParseWireFormat(*u.InputAudioFormat); err != nil {
			return s, invalidFormat(*u.InputAudioFormat).WithParam(p("input_audio_format"))
		}
		out.InputAudioFormat = *u.InputAudioFormat
	}
	if u.OutputAudioFormat != nil {
		if _, err := audio.ParseWireFormat(*u.OutputAudioFormat); err != nil {
			return s, invalidFormat(*u.OutputAudioFormat).WithParam(p("output_audio_format"))
		}
		out.OutputAudioFormat = *u.OutputAudioFormat
	}
	if u.InputAudioTranscription.Set {
		if u.InputAudioTranscription.Null {
			out.InputAudioTranscription = nil
		} else {
			t := u.InputAudioTranscription.Value
			out.InputAudioTranscription = &t
		}
	}
	if u.TurnDetection.Set {
		if u.TurnDetection.Null {
			out.TurnDetection = nil
		} else {
			td, err := u.TurnDetection.Value.Resolve(p("turn_detection"))
			if err != nil {
				return s, err
			}
			out.TurnDetection = td
		}
	}
	if u.InputAudioNoiseReduction.Set {
		if u.InputAudioNoiseReduction.Null {
			out.InputAudioNoiseReduction = nil
		} else {
			nr := u.InputAudioNoiseReduction.Value
			if _, err := audio.ParseNoiseReduction(nr.Type); err != nil || nr.Type == "" {
				return s, InvalidRequest(CodeInvalidValue, "Invalid noise reduction type %q. Supported values are: near_field, far_field.", nr.Type).
					WithParam(p("input_audio_noise_reduction.type"))
			}
			out.InputAudioNoiseReduction = &nr
		}
	}
	if u.Tools != nil {
		if err := ValidateTools(*u.Tools, p("tools")); err != nil {
			return s, err
		}
		out.Tools = slices.Clone(*u.Tools)
		if out.Tools == nil {
			out.Tools = []Tool{}
		}
	}
	if u.ToolChoice != nil {
		out.ToolChoice = *u.ToolChoice
	}
	if err := ValidateToolChoice(out.ToolChoice, out.Tools, p("tool_choice")); err != nil {
		return s, err
	}
	if u.Temperature != nil {
		if err := ValidateTemperature(*u.Temperature); err != nil {
			return s, err.WithParam(p("temperature"))
		}
		out.Temperature = *u.Temperature
	}
	maxOut, maxParam := u.MaxResponseOutputTokens, "max_response_output_tokens"
	if maxOut == nil {
		maxOut, maxParam = u.MaxOutputTokens, "max_output_tokens"
	}
	if maxOut != nil {
		if err := ValidateMaxTokens(*maxOut); err != nil {
			return s, err.WithParam(p(maxParam))
		}
		out.MaxResponseOutputTokens = *maxOut
	}
	return out, nil
}

func invalidFormat(name string) *Error {
	return InvalidRequest(CodeInvalidValue, "Invalid audio format %q. Supported values are: %s.", name, strings.Join(audio.WireFormatNames, ", "))
}

func validateModalities(m []string) *Error {
	sorted := slices.Clone(m)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	switch {
	case slices.Equal(sorted, []string{ModalityText}),
		slices.Equal(sorted, []string{ModalityAudio, ModalityText}):
		return nil
	}
	return InvalidRequest(CodeInvalidValue, "Invalid modalities %q. Supported combinations are: [\"text\"] and [\"audio\", \"text\"].", m)
}

// ValidateTools checks tool definitions; param is the tools field path.
func ValidateTools(tools []Tool, param string) *Error {
	seen := make(map[string]bool, len(tools))
	for i, t := range tools {
		at := fmt.Sprintf("%s[%d]", param, i)
		if t.Type != ToolChoiceFunction {
			return InvalidRequest(CodeInvalidValue, "Invalid tool type %q. Only \"function\" is supported.", t.Type).WithParam(at + ".type")
		}
		if t.Name == "" {
			return InvalidRequest(CodeMissingParameter, "Missing required parameter: tool name.").WithParam(at + ".name")
		}
		if seen[t.Name] {
			return InvalidRequest(CodeInvalidValue, "Duplicate tool name %q.", t.Name).WithParam(at + ".name")
		}
		seen[t.Name] = true
	}
	return nil
}

// ValidateToolChoice checks c against the available tools.
func ValidateToolChoice(c ToolChoice, tools []Tool, param string) *Error {
	switch c.Mode {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return nil
	case ToolChoiceFunction:
		if slices.ContainsFunc(tools, func(t Tool) bool { return t.Name == c.Function }) {
			return nil
		}
		return InvalidRequest(CodeInvalidValue, "Tool choice names unknown function %q.", c.Function).WithParam(param)
	}
	return InvalidRequest(CodeInvalidValue, "Invalid tool_choice %q. Supported values are: auto, none, required, or a function.", c.Mode).WithParam(param)
}

// ValidateTemperature checks the sampling temperature range.
func ValidateTemperature(t float64) *Error {
	if t < 0 || t > 2 {
		return InvalidRequest(CodeInvalidValue, "Invalid temperature %v. Expected a value between 0.0 and 2.0.", t)
	}
	return nil
}

// ValidateMaxTokens checks an output token cap.
func ValidateMaxTokens(m MaxTokens) *Error {
	if m < 0 || m > maxTokens {
		return InvalidRequest(CodeInvalidValue, "Invalid max output tokens. Expected an integer between 1 and %d, or \"inf\".", maxTokens)
	}
	return nil
}
