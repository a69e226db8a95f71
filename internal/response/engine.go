package response

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/pkg/audio"
	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	"github.com/MrWong99/rtvoice/pkg/provider/tts"
	"github.com/MrWong99/rtvoice/pkg/types"
)

// UpdateKind tells what an [Update] carries.
type UpdateKind int

const (
	// UpdateText carries a text delta in Text.
	UpdateText UpdateKind = iota + 1

	// UpdateAudio carries encoded output audio in Audio.
	UpdateAudio

	// UpdateCall carries a function call fragment in Call.
	UpdateCall

	// UpdateDone ends a successful run. Finish, Calls and Usage are set.
	UpdateDone

	// UpdateFailed ends a failed run. Err is set.
	UpdateFailed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateText:
		return "text"
	case UpdateAudio:
		return "audio"
	case UpdateCall:
		return "call"
	case UpdateDone:
		return "done"
	case UpdateFailed:
		return "failed"
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

// Update is one step of a run, reported to the session actor. Every run
// ends with exactly one UpdateDone or UpdateFailed unless it was cancelled.
type Update struct {
	ResponseID string
	Kind       UpdateKind

	Text  string
	Audio []byte
	Call  llm.ToolCallDelta

	// Finish is the model's finish reason: "stop", "length", "tool_calls"
	// or "content_filter".
	Finish string

	// Calls are the fully accumulated function calls, in model order.
	Calls []types.ToolCall

	Usage protocol.Usage
	Err   error
}

// Request starts one run.
type Request struct {
	ResponseID string
	Params     Params

	// Messages is the rendered prompt history.
	Messages []types.Message

	// Sink receives every Update. The run stops sending when its context ends.
	Sink chan<- Update
}

// Engine runs responses on the LLM and TTS workers. It is safe for
// concurrent use across sessions.
type Engine struct {
	llm     llm.Provider
	tts     tts.Provider
	sem     *semaphore.Weighted
	metrics *observe.Metrics

	llmName string
	ttsName string
}

// DefaultConcurrency is the number of runs allowed in flight at once.
const DefaultConcurrency = 32

// audioTokensPerSecond converts synthesised audio into usage tokens.
const audioTokensPerSecond = 20

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTTS enables speech output. Without it, audio responses carry the
// transcript only.
func WithTTS(p tts.Provider, name string) EngineOption {
	return func(e *Engine) {
		e.tts = p
		if name != "" {
			e.ttsName = name
		}
	}
}

// WithConcurrency caps the number of runs in flight. Further runs wait.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMetrics records worker latency and error metrics.
func WithMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLLMName sets the provider label used in metrics.
func WithLLMName(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.llmName = name
		}
	}
}

// NewEngine creates an Engine generating with p.
func NewEngine(p llm.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		llm:     p,
		sem:     semaphore.NewWeighted(DefaultConcurrency),
		llmName: "llm",
		ttsName: "tts",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LLM returns the generating provider.
func (e *Engine) LLM() llm.Provider { return e.llm }

// CanSpeak reports whether audio output is available.
func (e *Engine) CanSpeak() bool { return e.tts != nil }

// Run is a started response run.
type Run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the response ID the run produces.
func (r *Run) ID() string { return r.id }

// Cancel stops the run. No further updates are sent once Cancel returns
// and the run has observed it; callers drop late updates by ResponseID.
func (r *Run) Cancel() { r.cancel() }

// Done is closed when the run goroutine exited.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run goroutine exited.
func (r *Run) Wait() { <-r.done }

// Start launches a run in its own goroutine. It waits for a concurrency slot
// first; cancelling ctx or the Run abandons the wait.
func (e *Engine) Start(ctx context.Context, req Request) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{id: req.ResponseID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer cancel()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		e.run(ctx, req)
	}()
	return r
}

type streamResult struct {
	text   string
	finish string
	calls  []types.ToolCall
	usage  *llm.Usage
}

func (e *Engine) run(ctx context.Context, req Request) {
	ctx, span := observe.StartSpan(ctx, "response.run",
		trace.WithAttributes(attribute.String("response.id", req.ResponseID)))
	defer span.End()

	log := observe.Logger(ctx).With("response_id", req.ResponseID)
	started := time.Now()
	var firstDelta sync.Once
	send := func(ctx context.Context, u Update) bool {
		u.ResponseID = req.ResponseID
		if u.Kind == UpdateText || u.Kind == UpdateAudio || u.Kind == UpdateCall {
			firstDelta.Do(func() {
				e.metrics.RecordLatency(ctx, observe.StageFirstDelta, time.Since(started))
			})
		}
		select {
		case req.Sink <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("response run failed", "err", err)
		send(ctx, Update{Kind: UpdateFailed, Err: err})
	}

	stream, err := e.llm.StreamCompletion(ctx, completionRequest(req))
	if err != nil {
		e.metrics.RecordProviderError(ctx, e.llmName, "llm")
		e.metrics.RecordProviderRequest(ctx, e.llmName, "llm", "error")
		fail(fmt.Errorf("response: start llm stream: %w", err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)

	var sentences chan string
	var chunks <-chan tts.Chunk
	var spoken time.Duration
	if req.Params.Audio() && e.tts != nil {
		sentences = make(chan string, 8)
		chunks, err = e.tts.SynthesizeStream(gctx, sentences, tts.Request{Voice: req.Params.Voice})
		if err != nil {
			e.metrics.RecordProviderError(ctx, e.ttsName, "tts")
			e.metrics.RecordProviderRequest(ctx, e.ttsName, "tts", "error")
			fail(fmt.Errorf("response: start tts stream: %w", err))
			return
		}
		g.Go(func() error {
			ttsStart := time.Now()
			d, err := forwardAudio(gctx, chunks, req.Params.OutputFormat, send)
			spoken = d
			if err != nil && gctx.Err() == nil {
				e.metrics.RecordProviderError(ctx, e.ttsName, "tts")
			}
			e.metrics.RecordLatency(ctx, observe.StageTTS, time.Since(ttsStart))
			return err
		})
	}

	var res streamResult
	g.Go(func() error {
		if sentences != nil {
			defer close(sentences)
		}
		var err error
		res, err = consume(gctx, stream, sentences, send)
		return err
	})

	err = g.Wait()
	if chunks != nil {
		audio.Drain(chunks)
	}
	e.metrics.RecordLatency(ctx, observe.StageLLM, time.Since(started))
	if ctx.Err() != nil {
		log.Debug("response run cancelled")
		return
	}
	if err != nil {
		e.metrics.RecordProviderRequest(ctx, e.llmName, "llm", "error")
		fail(err)
		return
	}
	e.metrics.RecordProviderRequest(ctx, e.llmName, "llm", "ok")

	usage := e.usage(req, res, spoken)
	span.SetAttributes(
		attribute.String("response.finish", res.finish),
		attribute.Int("response.output_tokens", usage.OutputTokens),
	)
	send(ctx, Update{Kind: UpdateDone, Finish: res.finish, Calls: res.calls, Usage: usage})
}

// consume reads the model stream, reporting deltas and feeding complete
// sentences to synthesis.
func consume(ctx context.Context, stream <-chan llm.Chunk, sentences chan<- string, send func(context.Context, Update) bool) (streamResult, error) {
	var (
		res   streamResult
		text  strings.Builder
		split sentenceSplitter
	)
	speak := func(s string) error {
		if sentences == nil || s == "" {
			return nil
		}
		select {
		case sentences <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		var (
			chunk llm.Chunk
			ok    bool
		)
		select {
		case chunk, ok = <-stream:
		case <-ctx.Done():
			return res, ctx.Err()
		}
		if !ok {
			break
		}
		if chunk.Usage != nil {
			u := *chunk.Usage
			res.usage = &u
		}
		if chunk.FinishReason == llm.FinishReasonError {
			return res, fmt.Errorf("response: llm stream: %s", chunk.Text)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if !send(ctx, Update{Kind: UpdateText, Text: chunk.Text}) {
				return res, ctx.Err()
			}
			for _, s := range split.Push(chunk.Text) {
				if err := speak(s); err != nil {
					return res, err
				}
			}
		}
		for _, d := range chunk.ToolCallDeltas {
			if !send(ctx, Update{Kind: UpdateCall, Call: d}) {
				return res, ctx.Err()
			}
		}
		if chunk.FinishReason != "" {
			res.finish = chunk.FinishReason
			res.calls = chunk.ToolCalls
		}
	}

	if err := speak(split.Flush()); err != nil {
		return res, err
	}
	res.text = text.String()
	if res.finish == "" {
		res.finish = "stop"
	}
	return res, nil
}

// forwardAudio encodes synthesised PCM into the output format and reports
// it, returning the total spoken duration.
func forwardAudio(ctx context.Context, chunks <-chan tts.Chunk, format audio.WireFormat, send func(context.Context, Update) bool) (time.Duration, error) {
	var total time.Duration
	for c := range chunks {
		if c.Err != nil {
			return total, fmt.Errorf("response: tts stream: %w", c.Err)
		}
		if len(c.PCM) == 0 {
			continue
		}
		total += c.Duration
		if !send(ctx, Update{Kind: UpdateAudio, Audio: format.FromPCM16(c.PCM, c.SampleRate)}) {
			return total, ctx.Err()
		}
	}
	return total, ctx.Err()
}

func completionRequest(req Request) llm.CompletionRequest {
	p := req.Params
	cr := llm.CompletionRequest{
		Messages:     req.Messages,
		SystemPrompt: p.Instructions,
		Temperature:  p.Temperature,
		ToolChoice:   types.ToolChoice{Mode: p.ToolChoice.Mode, Function: p.ToolChoice.Function},
	}
	if p.MaxTokens > 0 {
		cr.MaxTokens = int(p.MaxTokens)
	}
	for _, t := range p.Tools {
		cr.Tools = append(cr.Tools, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return cr
}

// usage prefers the provider's accounting and counts locally otherwise.
func (e *Engine) usage(req Request, res streamResult, spoken time.Duration) protocol.Usage {
	var in, out int
	if res.usage != nil {
		in, out = res.usage.PromptTokens, res.usage.CompletionTokens
	}
	if in == 0 {
		msgs := req.Messages
		if req.Params.Instructions != "" {
			msgs = append([]types.Message{{Role: "system", Content: req.Params.Instructions}}, msgs...)
		}
		if n, err := e.llm.CountTokens(msgs); err == nil {
			in = n
		}
	}
	if out == 0 && (res.text != "" || len(res.calls) > 0) {
		if n, err := e.llm.CountTokens([]types.Message{{Role: "assistant", Content: res.text, ToolCalls: res.calls}}); err == nil {
			out = n
		}
	}
	audioTokens := int((spoken*audioTokensPerSecond + time.Second - 1) / time.Second)

	u := protocol.Usage{
		InputTokens:  in,
		OutputTokens: out + audioTokens,
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	u.InputTokenDetails.TextTokens = in
	u.OutputTokenDetails.TextTokens = out
	u.OutputTokenDetails.AudioTokens = audioTokens
	return u
}
