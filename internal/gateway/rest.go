package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/rtvoice/internal/gateway/auth"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/session"
)

const maxRESTBody = 1 << 20

type sessionList struct {
	Object string         `json:"object"`
	Data   []session.Info `json:"data"`
}

type sessionDeleted struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// createSession mints an ephemeral client secret for a session whose
// configuration the caller sets up front.
func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request) {
	p, ok := g.restAuth(w, r)
	if !ok {
		return
	}
	if g.ephemeral == nil {
		writeHTTPError(w, protocol.InvalidRequest(protocol.CodeInvalidValue,
			"Ephemeral client secrets are disabled on this server."))
		return
	}
	if g.draining.Load() {
		writeHTTPError(w, protocol.ServerError(protocol.CodeShuttingDown, "The server is shutting down."))
		return
	}

	var upd protocol.SessionUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRESTBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil && !errors.Is(err, io.EOF) {
		writeHTTPError(w, protocol.InvalidRequest(protocol.CodeInvalidJSON,
			"We could not parse the JSON body of your request: %v", err))
		return
	}

	next, perr := g.Defaults().Apply(upd, "session")
	if perr != nil {
		writeHTTPError(w, perr)
		return
	}
	if perr := g.template.Supports(next); perr != nil {
		writeHTTPError(w, perr)
		return
	}

	id := protocol.NewID(protocol.PrefixSession)
	next.ID = id
	next.Object = "realtime.session"
	secret := g.ephemeral.Issue(p.Tenant, id, next)
	next.ClientSecret = &secret

	observe.Logger(r.Context()).Info("client secret issued", "tenant", p.Tenant, "session_id", id)
	writeJSON(w, http.StatusOK, next)
}

func (g *Gateway) listSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := g.restAuth(w, r)
	if !ok {
		return
	}
	data := g.table.List(p.Tenant)
	if data == nil {
		data = []session.Info{}
	}
	writeJSON(w, http.StatusOK, sessionList{Object: "list", Data: data})
}

// deleteSession terminates a live session. Sessions of other tenants look
// like missing ones.
func (g *Gateway) deleteSession(w http.ResponseWriter, r *http.Request) {
	p, ok := g.restAuth(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	s, found := g.table.Lookup(id)
	if !found || s.Tenant() != p.Tenant {
		writeHTTPError(w, protocol.InvalidRequest(protocol.CodeSessionNotFound, "Session '%s' not found.", id))
		return
	}
	s.Terminate()
	observe.Logger(r.Context()).Info("session terminated", "tenant", p.Tenant, "session_id", id)
	writeJSON(w, http.StatusOK, sessionDeleted{ID: id, Object: "realtime.session", Deleted: true})
}

// restAuth accepts static API keys only; ephemeral secrets are for the
// WebSocket endpoint.
func (g *Gateway) restAuth(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	credential, _ := auth.ParseCredential(r)
	p, err := g.keys.Validate(r.Context(), credential)
	if err != nil {
		g.metrics.RecordProtocolError(r.Context(), protocol.CodeInvalidAPIKey)
		writeHTTPError(w, authFailure(err))
		return auth.Principal{}, false
	}
	return p, true
}

func httpStatus(perr *protocol.Error) int {
	switch {
	case perr.Code == protocol.CodeSessionNotFound:
		return http.StatusNotFound
	case perr.Code == protocol.CodeShuttingDown:
		return http.StatusServiceUnavailable
	}
	switch perr.Type {
	case protocol.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case protocol.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case protocol.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case protocol.ErrorTypeSession:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeHTTPError(w http.ResponseWriter, perr *protocol.Error) {
	writeJSON(w, httpStatus(perr), struct {
		Error *protocol.Error `json:"error"`
	}{perr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}
