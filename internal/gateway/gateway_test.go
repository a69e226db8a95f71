package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/rtvoice/internal/gateway/auth"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/response"
	"github.com/MrWong99/rtvoice/internal/session"
	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/rtvoice/pkg/provider/llm/mock"
)

const testModel = "gpt-4o-realtime-preview"

func testDefaults() protocol.Session {
	d := protocol.DefaultSession(testModel)
	d.Modalities = []string{protocol.ModalityText}
	return d
}

func testEngine() *response.Engine {
	return response.NewEngine(&llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "Hi."},
		{FinishReason: "stop", Usage: &llm.Usage{PromptTokens: 4, CompletionTokens: 1, TotalTokens: 5}},
	}})
}

type testServer struct {
	t   *testing.T
	g   *Gateway
	srv *httptest.Server
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	g, err := New(cfg, Deps{
		Session:   session.Config{Engine: testEngine(), Defaults: testDefaults()},
		Keys:      auth.NewStaticKeys(map[string]string{"sk-acme": "acme", "sk-globex": "globex"}),
		Ephemeral: auth.NewEphemeralStore(time.Minute),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, g.Shutdown(ctx))
		srv.Close()
	})
	return &testServer{t: t, g: g, srv: srv}
}

func (ts *testServer) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + DefaultPath + query
}

func (ts *testServer) dial(query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, ts.wsURL(query), &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{ProtocolRealtime},
	})
	if conn != nil {
		ts.t.Cleanup(func() { _ = conn.CloseNow() })
	}
	return conn, resp, err
}

func (ts *testServer) connect(key string) *websocket.Conn {
	ts.t.Helper()
	conn, _, err := ts.dial("", bearer(key))
	require.NoError(ts.t, err)
	return conn
}

func (ts *testServer) rest(method, path, key string, body string) (*http.Response, gjson.Result) {
	ts.t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+DefaultPath+path, strings.NewReader(body))
	require.NoError(ts.t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(ts.t, err)
	return resp, gjson.ParseBytes(buf.Bytes())
}

func bearer(key string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	return h
}

func read(t *testing.T, conn *websocket.Conn) gjson.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	return gjson.ParseBytes(data)
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

// closeStatus reads until the connection closes and returns the close code.
func closeStatus(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestGateway_SessionCreatedFirst(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.connect("sk-acme")
	assert.Equal(t, ProtocolRealtime, conn.Subprotocol())

	ev := read(t, conn)
	require.Equal(t, "session.created", ev.Get("type").String())
	assert.Equal(t, "event_0000000000000001", ev.Get("event_id").String())
	assert.True(t, strings.HasPrefix(ev.Get("session.id").String(), "sess_"))
	assert.Equal(t, testModel, ev.Get("session.model").String())

	ev = read(t, conn)
	require.Equal(t, "conversation.created", ev.Get("type").String())
	assert.Equal(t, "event_0000000000000002", ev.Get("event_id").String())
}

func TestGateway_ModelQueryParameter(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn, _, err := ts.dial("?model=gpt-4o-mini-realtime-preview", bearer("sk-acme"))
	require.NoError(t, err)

	ev := read(t, conn)
	assert.Equal(t, "gpt-4o-mini-realtime-preview", ev.Get("session.model").String())
}

func TestGateway_AuthFailure(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "missing", header: http.Header{}},
		{name: "wrong key", header: bearer("sk-wrong")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{})
			conn, _, err := ts.dial("", tt.header)
			require.NoError(t, err)

			ev := read(t, conn)
			require.Equal(t, "error", ev.Get("type").String())
			assert.Equal(t, "authentication_error", ev.Get("error.type").String())
			assert.Equal(t, protocol.CodeInvalidAPIKey, ev.Get("error.code").String())
			assert.Equal(t, websocket.StatusPolicyViolation, closeStatus(t, conn))
			assert.Zero(t, ts.g.Table().Count())
		})
	}
}

func TestGateway_BetaHeader(t *testing.T) {
	ts := newTestServer(t, Config{RequireBetaHeader: true})

	conn := ts.connect("sk-acme")
	ev := read(t, conn)
	require.Equal(t, "error", ev.Get("type").String())
	assert.Equal(t, protocol.CodeMissingBetaHeader, ev.Get("error.code").String())
	assert.Equal(t, websocket.StatusPolicyViolation, closeStatus(t, conn))

	h := bearer("sk-acme")
	h.Set("OpenAI-Beta", "realtime=v1")
	conn, _, err := ts.dial("", h)
	require.NoError(t, err)
	assert.Equal(t, "session.created", read(t, conn).Get("type").String())
}

func TestGateway_UnknownEventKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.connect("sk-acme")
	read(t, conn)
	read(t, conn)

	send(t, conn, `{"event_id":"evt_1","type":"bogus.event"}`)
	ev := read(t, conn)
	require.Equal(t, "error", ev.Get("type").String())
	assert.Equal(t, protocol.CodeInvalidEventType, ev.Get("error.code").String())
	assert.Equal(t, "evt_1", ev.Get("error.event_id").String())
	assert.Equal(t, "event_0000000000000003", ev.Get("event_id").String())

	send(t, conn, `{"type":"input_audio_buffer.clear"}`)
	ev = read(t, conn)
	assert.Equal(t, "input_audio_buffer.cleared", ev.Get("type").String())
	assert.Equal(t, "event_0000000000000004", ev.Get("event_id").String())
}

func TestGateway_TextResponse(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.connect("sk-acme")
	read(t, conn)
	read(t, conn)

	send(t, conn, `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"Hello"}]}}`)
	require.Equal(t, "conversation.item.created", read(t, conn).Get("type").String())

	send(t, conn, `{"type":"response.create"}`)
	var done gjson.Result
	for {
		ev := read(t, conn)
		if ev.Get("type").String() == "response.done" {
			done = ev
			break
		}
	}
	assert.Equal(t, "completed", done.Get("response.status").String())
	assert.Equal(t, "Hi.", done.Get("response.output.0.content.0.text").String())
}

func TestGateway_SessionLimit(t *testing.T) {
	ts := newTestServer(t, Config{MaxSessions: 1})
	first := ts.connect("sk-acme")
	require.Equal(t, "session.created", read(t, first).Get("type").String())

	second := ts.connect("sk-acme")
	ev := read(t, second)
	require.Equal(t, "error", ev.Get("type").String())
	assert.Equal(t, "rate_limit_error", ev.Get("error.type").String())
	assert.Equal(t, protocol.CodeSessionLimitReached, ev.Get("error.code").String())
	assert.Equal(t, websocket.StatusTryAgainLater, closeStatus(t, second))
}

func TestGateway_EphemeralSecret(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, body := ts.rest(http.MethodPost, "/sessions", "sk-acme",
		`{"instructions":"Be brief.","temperature":0.7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Raw)
	id := body.Get("id").String()
	secret := body.Get("client_secret.value").String()
	require.True(t, strings.HasPrefix(id, "sess_"))
	require.True(t, strings.HasPrefix(secret, auth.EphemeralPrefix))
	assert.Greater(t, body.Get("client_secret.expires_at").Int(), time.Now().Unix())

	conn, _, err := ts.dial("?access_token="+secret, nil)
	require.NoError(t, err)
	ev := read(t, conn)
	require.Equal(t, "session.created", ev.Get("type").String())
	assert.Equal(t, id, ev.Get("session.id").String())
	assert.Equal(t, "Be brief.", ev.Get("session.instructions").String())
	assert.InDelta(t, 0.7, ev.Get("session.temperature").Float(), 1e-9)
	assert.False(t, ev.Get("session.client_secret").Exists())

	// Secrets are single use.
	again, _, err := ts.dial("?access_token="+secret, nil)
	require.NoError(t, err)
	ev = read(t, again)
	assert.Equal(t, "authentication_error", ev.Get("error.type").String())
	assert.Equal(t, websocket.StatusPolicyViolation, closeStatus(t, again))
}

func TestGateway_CreateSessionErrors(t *testing.T) {
	ts := newTestServer(t, Config{})
	tests := []struct {
		name   string
		key    string
		body   string
		status int
		code   string
		param  string
	}{
		{name: "no key", body: `{}`, status: http.StatusUnauthorized, code: protocol.CodeInvalidAPIKey},
		{name: "bad json", key: "sk-acme", body: `{`, status: http.StatusBadRequest, code: protocol.CodeInvalidJSON},
		{name: "unknown field", key: "sk-acme", body: `{"colour":"blue"}`, status: http.StatusBadRequest, code: protocol.CodeInvalidJSON},
		{
			name: "bad temperature", key: "sk-acme", body: `{"temperature":5}`,
			status: http.StatusBadRequest, code: protocol.CodeInvalidValue, param: "session.temperature",
		},
		{
			name: "turn detection without vad", key: "sk-acme", body: `{"turn_detection":{"type":"server_vad"}}`,
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.rest(http.MethodPost, "/sessions", tt.key, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body.Raw)
			if tt.code != "" {
				assert.Equal(t, tt.code, body.Get("error.code").String())
			}
			if tt.param != "" {
				assert.Equal(t, tt.param, body.Get("error.param").String())
			}
		})
	}
}

func TestGateway_ListAndDelete(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.connect("sk-acme")
	created := read(t, conn)
	read(t, conn)
	id := created.Get("session.id").String()

	resp, body := ts.rest(http.MethodGet, "/sessions", "sk-acme", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "list", body.Get("object").String())
	require.Equal(t, int64(1), body.Get("data.#").Int())
	assert.Equal(t, id, body.Get("data.0.id").String())
	assert.Equal(t, session.StatusOpen, body.Get("data.0.status").String())
	assert.False(t, body.Get("data.0.tenant").Exists())

	_, body = ts.rest(http.MethodGet, "/sessions", "sk-globex", "")
	assert.Equal(t, int64(0), body.Get("data.#").Int())
	assert.True(t, body.Get("data").IsArray())

	resp, body = ts.rest(http.MethodDelete, "/sessions/"+id, "sk-globex", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, protocol.CodeSessionNotFound, body.Get("error.code").String())

	resp, body = ts.rest(http.MethodDelete, "/sessions/"+id, "sk-acme", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Get("deleted").Bool())

	ev := read(t, conn)
	require.Equal(t, "error", ev.Get("type").String())
	assert.Equal(t, protocol.CodeSessionTerminated, ev.Get("error.code").String())
	assert.Equal(t, websocket.StatusNormalClosure, closeStatus(t, conn))

	require.Eventually(t, func() bool { return ts.g.Table().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_Shutdown(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.connect("sk-acme")
	read(t, conn)
	read(t, conn)

	status := make(chan websocket.StatusCode, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				status <- websocket.CloseStatus(err)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.g.Shutdown(ctx))
	assert.Equal(t, websocket.StatusGoingAway, <-status)
	assert.Zero(t, ts.g.Table().Count())

	_, resp, err := ts.dial("", bearer("sk-acme"))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_SetDefaults(t *testing.T) {
	ts := newTestServer(t, Config{})

	next := testDefaults()
	next.Instructions = "Speak French."
	require.NoError(t, ts.g.SetDefaults(next))

	conn := ts.connect("sk-acme")
	ev := read(t, conn)
	assert.Equal(t, "Speak French.", ev.Get("session.instructions").String())

	bad := testDefaults()
	bad.InputAudioTranscription = &protocol.Transcription{Model: "whisper-1"}
	var perr *protocol.Error
	require.ErrorAs(t, ts.g.SetDefaults(bad), &perr)
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  *protocol.Error
		want int
	}{
		{protocol.InvalidRequest(protocol.CodeInvalidValue, "x"), http.StatusBadRequest},
		{protocol.InvalidRequest(protocol.CodeSessionNotFound, "x"), http.StatusNotFound},
		{protocol.AuthError(protocol.CodeInvalidAPIKey, "x"), http.StatusUnauthorized},
		{protocol.RateLimited(protocol.CodeSessionLimitReached, "x"), http.StatusTooManyRequests},
		{protocol.SessionError(protocol.CodeSessionTerminated, "x"), http.StatusConflict},
		{protocol.ServerError(protocol.CodeShuttingDown, "x"), http.StatusServiceUnavailable},
		{protocol.ServerError(protocol.CodeInternal, "x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatus(tt.err), tt.err.Code)
	}
}

func TestWriteHTTPError(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeHTTPError(rec, protocol.InvalidRequest(protocol.CodeInvalidValue, "Nope.").WithParam("session.voice"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body struct {
		Error protocol.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, protocol.ErrorTypeInvalidRequest, body.Error.Type)
	assert.Equal(t, "session.voice", body.Error.Param)
}
