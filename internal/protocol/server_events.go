package protocol

// ServerEventType is the "type" of a server event.
type ServerEventType string

const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeConversationCreated                              ServerEventType = "conversation.created"
	ServerEventTypeInputAudioBufferCommitted                        ServerEventType = "input_audio_buffer.committed"
	ServerEventTypeInputAudioBufferCleared                          ServerEventType = "input_audio_buffer.cleared"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeConversationItemCreated                          ServerEventType = "conversation.item.created"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeConversationItemInputAudioTranscriptionFailed    ServerEventType = "conversation.item.input_audio_transcription.failed"
	ServerEventTypeConversationItemTruncated                        ServerEventType = "conversation.item.truncated"
	ServerEventTypeConversationItemDeleted                          ServerEventType = "conversation.item.deleted"
	ServerEventTypeResponseCreated                                  ServerEventType = "response.created"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseOutputItemAdded                          ServerEventType = "response.output_item.added"
	ServerEventTypeResponseOutputItemDone                           ServerEventType = "response.output_item.done"
	ServerEventTypeResponseContentPartAdded                         ServerEventType = "response.content_part.added"
	ServerEventTypeResponseContentPartDone                          ServerEventType = "response.content_part.done"
	ServerEventTypeResponseTextDelta                                ServerEventType = "response.text.delta"
	ServerEventTypeResponseTextDone                                 ServerEventType = "response.text.done"
	ServerEventTypeResponseAudioTranscriptDelta                     ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone                      ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseAudioDelta                               ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                                ServerEventType = "response.audio.done"
	ServerEventTypeResponseFunctionCallArgumentsDelta               ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseFunctionCallArgumentsDone                ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeRateLimitsUpdated                                ServerEventType = "rate_limits.updated"
)

// ServerEvent is one of the server event variants. The set is closed: the
// unexported method keeps implementations inside this package.
type ServerEvent interface {
	ServerEventType() ServerEventType
	base() *ServerEventBase
}

// ServerEventBase holds the fields common to every server event. The
// sequencer fills both through [Stamp].
type ServerEventBase struct {
	EventID string          `json:"event_id"`
	Type    ServerEventType `json:"type"`
}

func (b *ServerEventBase) base() *ServerEventBase { return b }

// Stamp sets the event's type and ID.
func Stamp(ev ServerEvent, eventID string) {
	b := ev.base()
	b.Type = ev.ServerEventType()
	b.EventID = eventID
}

// EventID returns the ID assigned by [Stamp].
func EventID(ev ServerEvent) string { return ev.base().EventID }

// ErrorEvent reports a rejected operation or a server fault.
type ErrorEvent struct {
	ServerEventBase
	Error *Error `json:"error"`
}

// SessionCreatedEvent is the first event of every connection.
type SessionCreatedEvent struct {
	ServerEventBase
	Session Session `json:"session"`
}

// SessionUpdatedEvent carries the full configuration after session.update.
type SessionUpdatedEvent struct {
	ServerEventBase
	Session Session `json:"session"`
}

// Conversation is the conversation resource.
type Conversation struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// ConversationCreatedEvent follows session.created.
type ConversationCreatedEvent struct {
	ServerEventBase
	Conversation Conversation `json:"conversation"`
}

// InputAudioBufferCommittedEvent reports the item a buffer commit created.
type InputAudioBufferCommittedEvent struct {
	ServerEventBase
	PreviousItemID *string `json:"previous_item_id"`
	ItemID         string  `json:"item_id"`
}

// InputAudioBufferClearedEvent acknowledges input_audio_buffer.clear.
type InputAudioBufferClearedEvent struct {
	ServerEventBase
}

// InputAudioBufferSpeechStartedEvent is sent on VAD speech onset. ItemID
// names the item the turn will be committed into.
type InputAudioBufferSpeechStartedEvent struct {
	ServerEventBase
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// InputAudioBufferSpeechStoppedEvent marks the end of a detected turn.
type InputAudioBufferSpeechStoppedEvent struct {
	ServerEventBase
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// ConversationItemCreatedEvent announces an inserted item. PreviousItemID is
// null when the item is first.
type ConversationItemCreatedEvent struct {
	ServerEventBase
	PreviousItemID *string `json:"previous_item_id"`
	Item           Item    `json:"item"`
}

// ConversationItemInputAudioTranscriptionCompletedEvent carries the transcript of a committed audio item.
type ConversationItemInputAudioTranscriptionCompletedEvent struct {
	ServerEventBase
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// ConversationItemInputAudioTranscriptionFailedEvent reports a failed input transcription.
type ConversationItemInputAudioTranscriptionFailedEvent struct {
	ServerEventBase
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Error        *Error `json:"error"`
}

// ConversationItemTruncatedEvent acknowledges conversation.item.truncate.
type ConversationItemTruncatedEvent struct {
	ServerEventBase
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ConversationItemDeletedEvent acknowledges conversation.item.delete.
type ConversationItemDeletedEvent struct {
	ServerEventBase
	ItemID string `json:"item_id"`
}

// ResponseCreatedEvent opens a response in status in_progress.
type ResponseCreatedEvent struct {
	ServerEventBase
	Response Response `json:"response"`
}

// ResponseDoneEvent is sent exactly once per response, whatever its
// terminal status.
type ResponseDoneEvent struct {
	ServerEventBase
	Response Response `json:"response"`
}

// ResponseOutputItemAddedEvent announces a new output item.
type ResponseOutputItemAddedEvent struct {
	ServerEventBase
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

// ResponseOutputItemDoneEvent carries a finished output item.
type ResponseOutputItemDoneEvent struct {
	ServerEventBase
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

// PartRef locates a content part inside a response.
type PartRef struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
}

// ResponseContentPartAddedEvent announces a new content part of an output item.
type ResponseContentPartAddedEvent struct {
	ServerEventBase
	PartRef
	Part ContentPart `json:"part"`
}

// ResponseContentPartDoneEvent carries a finished content part.
type ResponseContentPartDoneEvent struct {
	ServerEventBase
	PartRef
	Part ContentPart `json:"part"`
}

// ResponseTextDeltaEvent streams output text.
type ResponseTextDeltaEvent struct {
	ServerEventBase
	PartRef
	Delta string `json:"delta"`
}

// ResponseTextDoneEvent carries the full text of a part.
type ResponseTextDoneEvent struct {
	ServerEventBase
	PartRef
	Text string `json:"text"`
}

// ResponseAudioTranscriptDeltaEvent streams the transcript of output audio.
type ResponseAudioTranscriptDeltaEvent struct {
	ServerEventBase
	PartRef
	Delta string `json:"delta"`
}

// ResponseAudioTranscriptDoneEvent carries the full transcript of an audio part.
type ResponseAudioTranscriptDoneEvent struct {
	ServerEventBase
	PartRef
	Transcript string `json:"transcript"`
}

// ResponseAudioDeltaEvent carries encoded output audio, base64 on the wire.
type ResponseAudioDeltaEvent struct {
	ServerEventBase
	PartRef
	Delta []byte `json:"delta"`
}

// ResponseAudioDoneEvent ends the audio of a part.
type ResponseAudioDoneEvent struct {
	ServerEventBase
	PartRef
}

// CallRef locates a function call inside a response.
type CallRef struct {
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
}

// ResponseFunctionCallArgumentsDeltaEvent streams function call arguments.
type ResponseFunctionCallArgumentsDeltaEvent struct {
	ServerEventBase
	CallRef
	Delta string `json:"delta"`
}

// ResponseFunctionCallArgumentsDoneEvent carries the complete arguments of a function call.
type ResponseFunctionCallArgumentsDoneEvent struct {
	ServerEventBase
	CallRef
	Arguments string `json:"arguments"`
}

// RateLimitsUpdatedEvent follows every response.done.
type RateLimitsUpdatedEvent struct {
	ServerEventBase
	RateLimits []RateLimit `json:"rate_limits"`
}

func (*ErrorEvent) ServerEventType() ServerEventType {
	return ServerEventTypeError
}

func (*SessionCreatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeSessionCreated
}

func (*SessionUpdatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeSessionUpdated
}

func (*ConversationCreatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeConversationCreated
}

func (*InputAudioBufferCommittedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeInputAudioBufferCommitted
}

func (*InputAudioBufferClearedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeInputAudioBufferCleared
}

func (*InputAudioBufferSpeechStartedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeInputAudioBufferSpeechStarted
}

func (*InputAudioBufferSpeechStoppedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeInputAudioBufferSpeechStopped
}

func (*ConversationItemCreatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeConversationItemCreated
}

func (*ConversationItemInputAudioTranscriptionCompletedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeConversationItemInputAudioTranscriptionCompleted
}

func (*ConversationItemInputAudioTranscriptionFailedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeConversationItemInputAudioTranscriptionFailed
}

func (*ConversationItemTruncatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeConversationItemTruncated
}

func (*ConversationItemDeletedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeConversationItemDeleted
}

func (*ResponseCreatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseCreated
}

func (*ResponseDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseDone
}

func (*ResponseOutputItemAddedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseOutputItemAdded
}

func (*ResponseOutputItemDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseOutputItemDone
}

func (*ResponseContentPartAddedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseContentPartAdded
}

func (*ResponseContentPartDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseContentPartDone
}

func (*ResponseTextDeltaEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseTextDelta
}

func (*ResponseTextDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseTextDone
}

func (*ResponseAudioTranscriptDeltaEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseAudioTranscriptDelta
}

func (*ResponseAudioTranscriptDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseAudioTranscriptDone
}

func (*ResponseAudioDeltaEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseAudioDelta
}

func (*ResponseAudioDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseAudioDone
}

func (*ResponseFunctionCallArgumentsDeltaEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseFunctionCallArgumentsDelta
}

func (*ResponseFunctionCallArgumentsDoneEvent) ServerEventType() ServerEventType {
	return ServerEventTypeResponseFunctionCallArgumentsDone
}

func (*RateLimitsUpdatedEvent) ServerEventType() ServerEventType {
	return ServerEventTypeRateLimitsUpdated
}
