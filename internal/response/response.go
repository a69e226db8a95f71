// Package response implements the response lifecycle: the per-response
// state machine the session actor drives, and the worker pipeline that
// produces model output.
//
// A [Response] is owned by the session actor and never touched
// concurrently. Every mutation emits the matching server event through an
// [Emitter], so the wire view and the stored state cannot drift apart.
// The [Engine] runs the LLM and TTS workers in a goroutine and reports back
// through [Update] values.
package response

import (
	"errors"
	"fmt"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// Sentinel errors.
var (
	// ErrTerminal is returned by every mutation once the response finished.
	ErrTerminal = errors.New("response: already finished")

	// ErrIndex is returned for an unknown output or content index.
	ErrIndex = errors.New("response: no such output item or content part")

	// ErrClosed is returned when writing to an item or part that is done.
	ErrClosed = errors.New("response: item or part already done")

	// ErrKind is returned when a delta does not fit the item or part type.
	ErrKind = errors.New("response: delta does not match item or part type")
)

// Emitter receives the server events a Response produces.
type Emitter interface {
	Emit(ev protocol.ServerEvent)
}

type outputItem struct {
	item      protocol.Item
	open      bool
	partsOpen []bool
}

// Response is the state of one response.
type Response struct {
	id             string
	conversationID string
	params         Params
	emit           Emitter

	status  string
	details *protocol.StatusDetails
	output  []*outputItem
	usage   *protocol.Usage
}

// New creates a response in status in_progress. Nothing is emitted until
// [Response.Start].
func New(id, conversationID string, p Params, emit Emitter) *Response {
	return &Response{
		id:             id,
		conversationID: conversationID,
		params:         p,
		emit:           emit,
		status:         protocol.ResponseInProgress,
	}
}

// ID returns the response ID.
func (r *Response) ID() string { return r.id }

// Params returns the settings the response runs with.
func (r *Response) Params() Params { return r.params }

// Status returns the current status.
func (r *Response) Status() string { return r.status }

// Terminal reports whether the response has finished.
func (r *Response) Terminal() bool { return r.status != protocol.ResponseInProgress }

// Len returns the number of output items.
func (r *Response) Len() int { return len(r.output) }

// Item returns output item i including audio.
func (r *Response) Item(i int) (protocol.Item, bool) {
	if i < 0 || i >= len(r.output) {
		return protocol.Item{}, false
	}
	return r.output[i].item, true
}

// Output returns every output item including audio.
func (r *Response) Output() []protocol.Item {
	out := make([]protocol.Item, len(r.output))
	for i, o := range r.output {
		out[i] = o.item
	}
	return out
}

// SetUsage records token accounting for response.done.
func (r *Response) SetUsage(u protocol.Usage) { r.usage = &u }

// Resource renders the wire resource. Audio bytes are left out.
func (r *Response) Resource() protocol.Response {
	res := protocol.Response{
		ID:                r.id,
		Object:            "realtime.response",
		Status:            r.status,
		StatusDetails:     r.details,
		Output:            make([]protocol.Item, len(r.output)),
		Modalities:        r.params.Modalities,
		Voice:             r.params.Voice,
		OutputAudioFormat: r.params.OutputFormat.String(),
		Temperature:       r.params.Temperature,
		MaxOutputTokens:   r.params.MaxTokens,
		Usage:             r.usage,
		Metadata:          r.params.Metadata,
	}
	if r.params.ConversationBound() {
		res.ConversationID = r.conversationID
	}
	for i, o := range r.output {
		res.Output[i] = o.item.WithoutAudio()
	}
	return res
}

// Start emits response.created.
func (r *Response) Start() {
	r.emit.Emit(&protocol.ResponseCreatedEvent{Response: r.Resource()})
}

func (r *Response) writable(oi int) (*outputItem, error) {
	if r.Terminal() {
		return nil, ErrTerminal
	}
	if oi < 0 || oi >= len(r.output) {
		return nil, fmt.Errorf("%w: output %d", ErrIndex, oi)
	}
	o := r.output[oi]
	if !o.open {
		return nil, ErrClosed
	}
	return o, nil
}

func (r *Response) writablePart(oi, ci int) (*outputItem, *protocol.ContentPart, error) {
	o, err := r.writable(oi)
	if err != nil {
		return nil, nil, err
	}
	if ci < 0 || ci >= len(o.item.Content) {
		return nil, nil, fmt.Errorf("%w: content %d of output %d", ErrIndex, ci, oi)
	}
	if !o.partsOpen[ci] {
		return nil, nil, ErrClosed
	}
	return o, &o.item.Content[ci], nil
}

func (r *Response) partRef(oi, ci int) protocol.PartRef {
	return protocol.PartRef{ResponseID: r.id, ItemID: r.output[oi].item.ID, OutputIndex: oi, ContentIndex: ci}
}

func (r *Response) callRef(oi int) protocol.CallRef {
	it := r.output[oi].item
	return protocol.CallRef{ResponseID: r.id, ItemID: it.ID, OutputIndex: oi, CallID: it.CallID}
}

// AddOutputItem opens a new output item and emits
// response.output_item.added. Missing IDs are generated.
func (r *Response) AddOutputItem(item protocol.Item) (int, error) {
	if r.Terminal() {
		return 0, ErrTerminal
	}
	item = item.Clone()
	if item.ID == "" {
		item.ID = protocol.NewID(protocol.PrefixItem)
	}
	item.Object = "realtime.item"
	item.Status = protocol.StatusInProgress
	if item.Type == protocol.ItemMessage && item.Content == nil {
		item.Content = []protocol.ContentPart{}
	}
	o := &outputItem{item: item, open: true, partsOpen: make([]bool, len(item.Content))}
	r.output = append(r.output, o)
	oi := len(r.output) - 1
	r.emit.Emit(&protocol.ResponseOutputItemAddedEvent{ResponseID: r.id, OutputIndex: oi, Item: item.WithoutAudio()})
	return oi, nil
}

// AddContentPart opens a content part on a message item and emits
// response.content_part.added.
func (r *Response) AddContentPart(oi int, part protocol.ContentPart) (int, error) {
	o, err := r.writable(oi)
	if err != nil {
		return 0, err
	}
	if o.item.Type != protocol.ItemMessage {
		return 0, ErrKind
	}
	if part.Type == protocol.PartAudio {
		part.Format = r.params.OutputFormat
	}
	o.item.Content = append(o.item.Content, part)
	o.partsOpen = append(o.partsOpen, true)
	ci := len(o.item.Content) - 1
	part.Audio = nil
	r.emit.Emit(&protocol.ResponseContentPartAddedEvent{PartRef: r.partRef(oi, ci), Part: part})
	return ci, nil
}

// AppendText adds a text delta to a text part.
func (r *Response) AppendText(oi, ci int, delta string) error {
	_, p, err := r.writablePart(oi, ci)
	if err != nil {
		return err
	}
	if p.Type != protocol.PartText {
		return ErrKind
	}
	p.Text += delta
	r.emit.Emit(&protocol.ResponseTextDeltaEvent{PartRef: r.partRef(oi, ci), Delta: delta})
	return nil
}

// AppendTranscript adds a transcript delta to an audio part.
func (r *Response) AppendTranscript(oi, ci int, delta string) error {
	_, p, err := r.writablePart(oi, ci)
	if err != nil {
		return err
	}
	if p.Type != protocol.PartAudio {
		return ErrKind
	}
	p.Transcript += delta
	r.emit.Emit(&protocol.ResponseAudioTranscriptDeltaEvent{PartRef: r.partRef(oi, ci), Delta: delta})
	return nil
}

// AppendAudio adds encoded output audio to an audio part.
func (r *Response) AppendAudio(oi, ci int, data []byte) error {
	_, p, err := r.writablePart(oi, ci)
	if err != nil {
		return err
	}
	if p.Type != protocol.PartAudio {
		return ErrKind
	}
	p.Audio = append(p.Audio, data...)
	r.emit.Emit(&protocol.ResponseAudioDeltaEvent{PartRef: r.partRef(oi, ci), Delta: data})
	return nil
}

// AppendArguments adds a delta to a function call's arguments.
func (r *Response) AppendArguments(oi int, delta string) error {
	o, err := r.writable(oi)
	if err != nil {
		return err
	}
	if o.item.Type != protocol.ItemFunctionCall {
		return ErrKind
	}
	o.item.Arguments += delta
	r.emit.Emit(&protocol.ResponseFunctionCallArgumentsDeltaEvent{CallRef: r.callRef(oi), Delta: delta})
	return nil
}

// FinishPart closes a content part, emitting its .done events and
// response.content_part.done.
func (r *Response) FinishPart(oi, ci int) error {
	if _, _, err := r.writablePart(oi, ci); err != nil {
		return err
	}
	r.closePart(oi, ci)
	return nil
}

func (r *Response) closePart(oi, ci int) {
	o := r.output[oi]
	o.partsOpen[ci] = false
	part := o.item.Content[ci]
	ref := r.partRef(oi, ci)
	switch part.Type {
	case protocol.PartText:
		r.emit.Emit(&protocol.ResponseTextDoneEvent{PartRef: ref, Text: part.Text})
	case protocol.PartAudio:
		r.emit.Emit(&protocol.ResponseAudioDoneEvent{PartRef: ref})
		r.emit.Emit(&protocol.ResponseAudioTranscriptDoneEvent{PartRef: ref, Transcript: part.Transcript})
	}
	part.Audio = nil
	r.emit.Emit(&protocol.ResponseContentPartDoneEvent{PartRef: ref, Part: part})
}

// FinishItem closes an output item with status completed, closing any open
// parts first, and returns the final item including audio.
func (r *Response) FinishItem(oi int) (protocol.Item, error) {
	if _, err := r.writable(oi); err != nil {
		return protocol.Item{}, err
	}
	r.closeItem(oi, protocol.StatusCompleted)
	return r.output[oi].item, nil
}

func (r *Response) closeItem(oi int, status string) {
	o := r.output[oi]
	for ci, open := range o.partsOpen {
		if open {
			r.closePart(oi, ci)
		}
	}
	if o.item.Type == protocol.ItemFunctionCall {
		r.emit.Emit(&protocol.ResponseFunctionCallArgumentsDoneEvent{CallRef: r.callRef(oi), Arguments: o.item.Arguments})
	}
	o.open = false
	o.item.Status = status
	r.emit.Emit(&protocol.ResponseOutputItemDoneEvent{ResponseID: r.id, OutputIndex: oi, Item: o.item.WithoutAudio()})
}

// Complete finishes the response successfully.
func (r *Response) Complete() error {
	return r.finish(protocol.ResponseCompleted, nil)
}

// Cancel finishes the response as cancelled, keeping partial output.
func (r *Response) Cancel(reason string) error {
	return r.finish(protocol.ResponseCancelled, &protocol.StatusDetails{Type: protocol.ResponseCancelled, Reason: reason})
}

// Incomplete finishes the response as incomplete, e.g. when the token cap
// was hit or the client went away.
func (r *Response) Incomplete(reason string) error {
	return r.finish(protocol.ResponseIncomplete, &protocol.StatusDetails{Type: protocol.ResponseIncomplete, Reason: reason})
}

// Fail finishes the response as failed with cause reported in
// status_details.error.
func (r *Response) Fail(cause *protocol.Error) error {
	return r.finish(protocol.ResponseFailed, &protocol.StatusDetails{
		Type:  protocol.ResponseFailed,
		Error: &protocol.StatusError{Type: string(cause.Type), Code: cause.Code, Message: cause.Message},
	})
}

// finish closes open items and emits response.done exactly once.
func (r *Response) finish(status string, details *protocol.StatusDetails) error {
	if r.Terminal() {
		return ErrTerminal
	}
	itemStatus := protocol.StatusCompleted
	if status != protocol.ResponseCompleted {
		itemStatus = protocol.StatusIncomplete
	}
	for oi, o := range r.output {
		if o.open {
			r.closeItem(oi, itemStatus)
		}
	}
	r.status = status
	r.details = details
	r.emit.Emit(&protocol.ResponseDoneEvent{Response: r.Resource()})
	return nil
}
