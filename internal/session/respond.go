package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/rtvoice/internal/conversation"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/response"
	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	"github.com/MrWong99/rtvoice/pkg/provider/llm/tokenizer"
	"github.com/MrWong99/rtvoice/pkg/types"
)

// activeResponse ties the response state machine to its worker run.
type activeResponse struct {
	resp    *response.Response
	run     *response.Run
	started time.Time

	// Output index and content index of the assistant message, -1 until
	// the first text arrives.
	message int
	part    int

	// calls maps the model's call index to an output index.
	calls map[int]int
}

func (s *Session) createResponse(ctx context.Context, overrides *protocol.ResponseParams) error {
	if s.active != nil {
		return protocol.SessionError(protocol.CodeActiveResponse,
			"Conversation already has an active response in progress: %s. Wait until the response is finished before creating a new one.",
			s.active.resp.ID())
	}
	params, perr := response.Resolve(s.config, overrides)
	if perr != nil {
		return perr
	}
	if s.limiter != nil {
		if ok, retry := s.limiter.Allow(s.tenant); !ok {
			return protocol.RateLimited(protocol.CodeRateLimitExceeded,
				"Rate limit reached for requests. Please try again in %.3fs.", retry.Seconds())
		}
	}
	msgs, err := s.prompt(params)
	if err != nil {
		return err
	}

	id := protocol.NewID(protocol.PrefixResponse)
	resp := response.New(id, s.conv.ID(), params, s)
	resp.Start()
	run := s.engine.Start(ctx, response.Request{
		ResponseID: id,
		Params:     params,
		Messages:   msgs,
		Sink:       s.updates,
	})
	s.active = &activeResponse{
		resp:    resp,
		run:     run,
		started: time.Now(),
		message: -1,
		part:    -1,
		calls:   make(map[int]int),
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		run.Wait()
	}()
	observe.Logger(ctx).Debug("response started", "response_id", id, "messages", len(msgs))
	return nil
}

// prompt renders the model input: the explicit input list when given,
// otherwise the conversation, trimmed to the context window.
func (s *Session) prompt(p response.Params) ([]types.Message, error) {
	var msgs []types.Message
	if p.Input != nil {
		items := make([]protocol.Item, 0, len(p.Input))
		for i, it := range p.Input {
			if it.Type != protocol.ItemReference {
				items = append(items, it)
				continue
			}
			stored, ok := s.conv.Get(it.ID)
			if !ok {
				return nil, protocol.InvalidRequest(protocol.CodeItemNotFound,
					"Item with id '%s' not found.", it.ID).WithParam(fmt.Sprintf("response.input[%d].id", i))
			}
			items = append(items, stored)
		}
		msgs = conversation.Render(items)
	} else {
		msgs = s.conv.History()
	}
	if budget := s.contextBudget(p); budget > 0 {
		msgs = conversation.Fit(msgs, budget, s.countTokens)
	}
	return msgs, nil
}

// contextBudget is the prompt token budget, or 0 when the model does not
// report a context window.
func (s *Session) contextBudget(p response.Params) int {
	caps := s.engine.LLM().Capabilities()
	if caps.ContextWindow <= 0 {
		return 0
	}
	reserve := int(p.MaxTokens)
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	return max(caps.ContextWindow-reserve, caps.ContextWindow/2)
}

func (s *Session) countTokens(msgs []types.Message) int {
	n, err := s.engine.LLM().CountTokens(msgs)
	if err != nil {
		n = 0
		for _, m := range msgs {
			n += tokenizer.Estimate(m.Content)
		}
	}
	return n
}

func (s *Session) cancelResponse(ctx context.Context, ev *protocol.ResponseCancelEvent) error {
	if s.active == nil || (ev.ResponseID != "" && ev.ResponseID != s.active.resp.ID()) {
		return protocol.SessionError(protocol.CodeCancelNotActive, "Cancellation failed: no active response found.")
	}
	s.cancelActive(ctx, protocol.ReasonClientCancelled)
	return nil
}

func (s *Session) cancelActive(ctx context.Context, reason string) {
	if s.active == nil {
		return
	}
	s.finishActive(ctx, func(r *response.Response) error { return r.Cancel(reason) }, nil)
}

// applyUpdate applies one worker update to the active response. Updates
// from runs that already finished are dropped.
func (s *Session) applyUpdate(ctx context.Context, u response.Update) {
	a := s.active
	if a == nil || a.resp.ID() != u.ResponseID {
		return
	}
	var err error
	switch u.Kind {
	case response.UpdateText:
		err = s.appendText(a, u.Text)
	case response.UpdateAudio:
		err = s.appendOutputAudio(a, u.Audio)
	case response.UpdateCall:
		err = s.appendCall(a, u.Call)
	case response.UpdateDone:
		err = s.completeActive(ctx, a, u)
	case response.UpdateFailed:
		observe.Logger(ctx).Error("response failed", "response_id", u.ResponseID, "err", u.Err)
		perr := protocol.ServerError(protocol.CodeProviderUnavailable, "The model failed to produce a response.")
		s.finishActive(ctx, func(r *response.Response) error { return r.Fail(perr) }, nil)
		return
	}
	if err != nil {
		observe.Logger(ctx).Error("apply response update", "response_id", u.ResponseID, "kind", u.Kind, "err", err)
		if s.active == a {
			perr := protocol.ServerError(protocol.CodeInternal, "The server had an error while generating the response.")
			s.finishActive(ctx, func(r *response.Response) error { return r.Fail(perr) }, nil)
		}
	}
}

// openMessage returns the assistant message and its part, opening both on
// first use.
func (s *Session) openMessage(a *activeResponse) (int, int, error) {
	if a.message >= 0 {
		return a.message, a.part, nil
	}
	oi, err := a.resp.AddOutputItem(protocol.Item{Type: protocol.ItemMessage, Role: protocol.RoleAssistant})
	if err != nil {
		return 0, 0, err
	}
	s.outputAdded(a, oi)
	partType := protocol.PartText
	if a.resp.Params().Audio() {
		partType = protocol.PartAudio
	}
	ci, err := a.resp.AddContentPart(oi, protocol.ContentPart{Type: partType})
	if err != nil {
		return 0, 0, err
	}
	a.message, a.part = oi, ci
	return oi, ci, nil
}

func (s *Session) appendText(a *activeResponse, text string) error {
	oi, ci, err := s.openMessage(a)
	if err != nil {
		return err
	}
	if a.resp.Params().Audio() {
		return a.resp.AppendTranscript(oi, ci, text)
	}
	return a.resp.AppendText(oi, ci, text)
}

func (s *Session) appendOutputAudio(a *activeResponse, data []byte) error {
	oi, ci, err := s.openMessage(a)
	if err != nil {
		return err
	}
	return a.resp.AppendAudio(oi, ci, data)
}

func (s *Session) appendCall(a *activeResponse, d llm.ToolCallDelta) error {
	oi, ok := a.calls[d.Index]
	if !ok {
		callID := d.ID
		if callID == "" {
			callID = protocol.NewID(protocol.PrefixCall)
		}
		var err error
		oi, err = a.resp.AddOutputItem(protocol.Item{Type: protocol.ItemFunctionCall, CallID: callID, Name: d.Name})
		if err != nil {
			return err
		}
		a.calls[d.Index] = oi
		s.outputAdded(a, oi)
	}
	if d.Arguments == "" {
		return nil
	}
	return a.resp.AppendArguments(oi, d.Arguments)
}

// outputAdded mirrors a new output item into the conversation.
func (s *Session) outputAdded(a *activeResponse, oi int) {
	if !a.resp.Params().ConversationBound() {
		return
	}
	item, _ := a.resp.Item(oi)
	prev, err := s.conv.Append(item.Clone())
	if err != nil {
		s.log.Warn("append output item to conversation", "item_id", item.ID, "err", err)
		return
	}
	s.Emit(&protocol.ConversationItemCreatedEvent{PreviousItemID: prev, Item: item.WithoutAudio()})
}

// completeActive ends the active response after the run reported done.
func (s *Session) completeActive(ctx context.Context, a *activeResponse, u response.Update) error {
	// Calls that never streamed fragments still become output items.
	for i, c := range u.Calls {
		if _, ok := a.calls[i]; ok {
			continue
		}
		if err := s.appendCall(a, llm.ToolCallDelta{Index: i, ID: c.ID, Name: c.Name, Arguments: c.Arguments}); err != nil {
			return err
		}
	}
	terminal := func(r *response.Response) error { return r.Complete() }
	switch u.Finish {
	case "length":
		terminal = func(r *response.Response) error { return r.Incomplete(protocol.ReasonMaxOutputTokens) }
	case "content_filter":
		terminal = func(r *response.Response) error { return r.Incomplete(protocol.ReasonContentFilter) }
	}
	usage := u.Usage
	s.finishActive(ctx, terminal, &usage)
	return nil
}

// finishActive moves the active response to a terminal state, writes its
// output back into the conversation and reports rate limits.
func (s *Session) finishActive(ctx context.Context, terminal func(*response.Response) error, usage *protocol.Usage) {
	a := s.active
	s.active = nil
	a.run.Cancel()

	if usage != nil {
		a.resp.SetUsage(*usage)
	}
	if err := terminal(a.resp); err != nil {
		s.log.Error("finish response", "response_id", a.resp.ID(), "err", err)
		return
	}
	if a.resp.Params().ConversationBound() {
		for _, item := range a.resp.Output() {
			err := s.conv.Replace(item)
			switch {
			case errors.Is(err, conversation.ErrNotFound):
				observe.Logger(ctx).Debug("output item deleted while streaming", "item_id", item.ID)
			case err != nil:
				s.log.Warn("write back output item", "item_id", item.ID, "err", err)
			}
		}
	}
	s.metrics.RecordResponse(ctx, a.resp.Status())
	observe.Logger(ctx).Debug("response finished",
		"response_id", a.resp.ID(), "status", a.resp.Status(), "elapsed", time.Since(a.started))

	if usage != nil && s.limiter != nil {
		s.limiter.Consume(s.tenant, usage.TotalTokens)
	}
	s.Emit(&protocol.RateLimitsUpdatedEvent{RateLimits: s.rateLimits()})
}

func (s *Session) rateLimits() []protocol.RateLimit {
	out := []protocol.RateLimit{}
	if s.limiter == nil {
		return out
	}
	for _, b := range s.limiter.Snapshot(s.tenant) {
		out = append(out, protocol.RateLimit{
			Name:         b.Name,
			Limit:        b.Limit,
			Remaining:    b.Remaining,
			ResetSeconds: b.Reset.Seconds(),
		})
	}
	return out
}
