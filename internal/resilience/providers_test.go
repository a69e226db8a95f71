package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/rtvoice/pkg/provider/llm/mock"
	"github.com/MrWong99/rtvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/rtvoice/pkg/provider/stt/mock"
	"github.com/MrWong99/rtvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/rtvoice/pkg/provider/tts/mock"
)

func drainLLM(ch <-chan llm.Chunk) []llm.Chunk {
	var out []llm.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestLLM_FailsOverWhenStreamCannotOpen(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamErr: errBoom}
	backup := &llmmock.Provider{Chunks: []llm.Chunk{{Text: "hi"}, {FinishReason: "stop"}}}

	f := NewLLM("primary", primary, BreakerConfig{Failures: 1, Cooldown: time.Hour})
	f.AddFallback("backup", backup)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	chunks := drainLLM(ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "hi", chunks[0].Text)
	assert.Equal(t, StateOpen, f.Group().States()["primary"])
}

func TestLLM_ErrorChunkCountsAgainstProvider(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{Chunks: []llm.Chunk{{Text: "upstream reset", FinishReason: llm.FinishReasonError}}}
	f := NewLLM("primary", primary, BreakerConfig{Failures: 1, Cooldown: time.Hour})

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	drainLLM(ch)

	require.Eventually(t, func() bool {
		return f.Group().States()["primary"] == StateOpen
	}, time.Second, 5*time.Millisecond)

	_, err = f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	assert.ErrorIs(t, err, ErrAllFailed)
}

func TestLLM_CancelledStreamIsNeutral(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	primary := &llmmock.Provider{Hold: hold, Chunks: []llm.Chunk{{Text: "a"}, {Text: "b"}}}
	f := NewLLM("primary", primary, BreakerConfig{Failures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.StreamCompletion(ctx, llm.CompletionRequest{})
	require.NoError(t, err)
	<-ch
	cancel()
	drainLLM(ch)

	assert.Never(t, func() bool {
		return f.Group().States()["primary"] != StateClosed
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestLLM_DelegatesToPrimary(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{TokenCount: 42, Response: &llm.CompletionResponse{Content: "done"}}
	f := NewLLM("primary", primary, BreakerConfig{})
	f.AddFallback("backup", &llmmock.Provider{TokenCount: 7})

	n, err := f.CountTokens(nil)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
}

func TestSTT_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errBoom}
	backup := &sttmock.Provider{Result: stt.Result{Text: "hello"}}

	f := NewSTT("primary", primary, BreakerConfig{})
	require.NoError(t, f.AddFallback("backup", backup))

	res, err := f.Transcribe(context.Background(), stt.Request{})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Len(t, primary.Requests(), 1)
	assert.Equal(t, 16000, f.SampleRate())
}

func TestSTT_RejectsMismatchedSampleRate(t *testing.T) {
	t.Parallel()
	f := NewSTT("primary", &sttmock.Provider{}, BreakerConfig{})
	err := f.AddFallback("backup", &sttmock.Provider{Rate: 24000})
	require.Error(t, err)
	assert.Equal(t, 1, f.Group().Len())
}

func TestTTS_FailoverAndErrorChunk(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{StartErr: errBoom}
	backup := &ttsmock.Provider{FailAfter: 1}

	f := NewTTS("primary", primary, BreakerConfig{Failures: 1, Cooldown: time.Hour})
	f.AddFallback("backup", backup)

	text := make(chan string, 2)
	text <- "one"
	text <- "two"
	close(text)

	ch, err := f.SynthesizeStream(context.Background(), text, tts.Request{})
	require.NoError(t, err)
	var chunks []tts.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.NoError(t, chunks[0].Err)
	assert.Error(t, chunks[1].Err)

	require.Eventually(t, func() bool {
		return f.Group().States()["backup"] == StateOpen
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateOpen, f.Group().States()["primary"])
}
