package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtvoice/pkg/provider/tts"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
	p, err := New("key", WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.sampleRate != 16000 {
		t.Errorf("sampleRate = %d, want 16000", p.sampleRate)
	}
}

func TestVoiceMapping(t *testing.T) {
	p, _ := New("key", WithVoiceMap(map[string]string{"alloy": "21m00Tcm4TlvDq8ikWAM"}))
	if got := p.voiceID("alloy"); got != "21m00Tcm4TlvDq8ikWAM" {
		t.Errorf("voiceID(alloy) = %q", got)
	}
	if got := p.voiceID("custom-id"); got != "custom-id" {
		t.Errorf("voiceID(custom-id) = %q", got)
	}
	url := p.streamURL("abc")
	if !strings.Contains(url, "/v1/text-to-speech/abc/stream-input") || !strings.Contains(url, "output_format=pcm_24000") {
		t.Errorf("unexpected URL %q", url)
	}
}

// fakeServer speaks the stream-input protocol: it collects text until the
// empty end-of-input message and answers with one audio frame per sentence.
func fakeServer(t *testing.T, got chan<- []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var texts []string
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg textMessage
			_ = json.Unmarshal(data, &msg)
			if msg.XiAPIKey != "" {
				continue
			}
			if msg.Text == "" {
				break
			}
			texts = append(texts, strings.TrimSpace(msg.Text))
		}
		got <- texts

		for range texts {
			frame, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(make([]byte, 480))})
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, final)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesizeStream(t *testing.T) {
	got := make(chan []string, 1)
	srv := fakeServer(t, got)

	p, err := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 2)
	text <- "Hello there."
	text <- "How are you?"
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, tts.Request{Voice: "alloy"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	var chunks []tts.Chunk
	for c := range audio {
		if c.Err != nil {
			t.Fatalf("chunk error: %v", c.Err)
		}
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for _, c := range chunks {
		if c.SampleRate != 24000 || c.Duration != 10*time.Millisecond {
			t.Errorf("chunk rate=%d duration=%v", c.SampleRate, c.Duration)
		}
	}

	texts := <-got
	if len(texts) != 2 || texts[0] != "Hello there." || texts[1] != "How are you?" {
		t.Errorf("server received %q", texts)
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), make(chan string), tts.Request{}); err == nil {
		t.Fatal("expected error for empty voice")
	}
}
