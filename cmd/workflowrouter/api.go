package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/flowctl/workflowrouter/internal/callback"
	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/router"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

// API is the thin HTTP surface in front of the Router Core. It does
// request framing and error mapping only; every decision lives in the
// router, the sink, or below.
type API struct {
	router *router.Router
	sink   *callback.Sink
	hub    *StreamHub

	maxParameterBytes int

	// Storm protection on the endpoints remote systems hit.
	callbackLimiter *rate.Limiter

	upgrader websocket.Upgrader
}

func NewAPI(r *router.Router, sink *callback.Sink, hub *StreamHub, maxParameterBytes int) *API {
	return &API{
		router:            r,
		sink:              sink,
		hub:               hub,
		maxParameterBytes: maxParameterBytes,
		// Allow 50 callbacks/sec, burst 100
		callbackLimiter: rate.NewLimiter(rate.Limit(50), 100),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
}

// handleSubmit handles POST /workflows/submit?routeId=&workflowId= with
// the parameter mapping as the JSON body.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	routeID := r.URL.Query().Get("routeId")
	workflowID := r.URL.Query().Get("workflowId")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(a.maxParameterBytes)))
	if err != nil {
		writeError(w, routererr.New(routererr.KindInvalidParams, "parameter payload too large or unreadable"))
		return
	}

	parameters := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parameters); err != nil {
			writeError(w, routererr.New(routererr.KindInvalidParams, "body must be a JSON object"))
			return
		}
	}

	submissionID, err := a.router.SubmitWorkflow(r.Context(), routeID, workflowID, parameters)
	if err != nil && submissionID == "" {
		writeError(w, err)
		return
	}
	if err != nil {
		// The submission row exists (FAILED after a driver failure, still
		// SUBMITTED if recording the outcome failed); report both facts.
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"submissionId": submissionID,
			"error":        errorKind(err),
			"message":      err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{SubmissionID: submissionID})
}

// handleStatus handles GET /workflows/status/{submissionId} and
// GET /workflows/status?from=&to=&... for the by-period listing.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/workflows/status")
	rest = strings.TrimPrefix(rest, "/")
	if rest != "" {
		a.handleStatusByID(w, r, rest)
		return
	}
	a.handleStatusByPeriod(w, r)
}

func (a *API) handleStatusByID(w http.ResponseWriter, r *http.Request, submissionID string) {
	if len(submissionID) > 64 {
		writeError(w, routererr.New(routererr.KindNotFound, "submission id too long"))
		return
	}

	sub, err := a.router.GetSubmissionStatus(r.Context(), submissionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleStatusByPeriod(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, routererr.New(routererr.KindInvalidParams, "from must be an RFC3339 timestamp"))
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, routererr.New(routererr.KindInvalidParams, "to must be an RFC3339 timestamp"))
		return
	}

	filter := submissionstore.PeriodFilter{
		RouteID:    q.Get("routeId"),
		WorkflowID: q.Get("workflowId"),
		Status:     submission.Status(q.Get("status")),
	}
	for key, values := range q {
		if strings.HasPrefix(key, "param.") && len(values) > 0 {
			if filter.Parameters == nil {
				filter.Parameters = map[string]interface{}{}
			}
			filter.Parameters[strings.TrimPrefix(key, "param.")] = values[0]
		}
	}

	subs, err := a.router.GetSubmissionsByPeriod(r.Context(), from, to, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if subs == nil {
		subs = []submission.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// handleCallback handles POST /workflows/callback?routeId= with the
// endpoint's opaque payload as the body.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.callbackLimiter.Allow() {
		observability.APIRateLimited.WithLabelValues("callback").Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	routeID := r.URL.Query().Get("routeId")
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(a.maxParameterBytes)))
	if err != nil {
		writeError(w, routererr.New(routererr.KindInvalidCallback, "payload too large or unreadable"))
		return
	}

	if _, err := a.sink.Handle(r.Context(), routeID, payload); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream upgrades to WebSocket and registers the client for
// submission state-transition pushes.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API: websocket upgrade failed: %v", err)
		return
	}
	a.hub.Register(conn, r.URL.Query().Get("routeId"))

	// Read pump: we never expect client messages, but reading drains
	// control frames and detects disconnects.
	go func() {
		defer a.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: writing response: %v", err)
	}
}

func errorKind(err error) string {
	if kind, ok := routererr.KindOf(err); ok {
		return string(kind)
	}
	return "Internal"
}

// writeError maps the router's error taxonomy onto HTTP statuses. A
// response carries at most one error reason: the kind token plus a
// short message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	kind, ok := routererr.KindOf(err)
	if ok {
		switch kind {
		case routererr.KindUnknownRoute, routererr.KindNotFound:
			status = http.StatusNotFound
		case routererr.KindInvalidParams, routererr.KindInvalidCallback, routererr.KindRejected:
			status = http.StatusBadRequest
		case routererr.KindAuthError:
			status = http.StatusBadGateway
		case routererr.KindContended, routererr.KindConflict:
			status = http.StatusConflict
		case routererr.KindUnavailable, routererr.KindTransport, routererr.KindSubmitFailed:
			status = http.StatusBadGateway
		case routererr.KindUnknownEndpoint:
			status = http.StatusInternalServerError
		}
	}

	var re *routererr.RouterError
	msg := err.Error()
	if errors.As(err, &re) && re.Message != "" {
		msg = re.Message
	}

	writeJSON(w, status, errorResponse{Error: errorKind(err), Message: msg})
}
