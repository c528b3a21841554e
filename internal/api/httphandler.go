package api

import (
	"gatekeep/internal/guard"
	"gatekeep/internal/types"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	Policies *guard.PolicyLimiter
	Lockout  *guard.AccountLockoutTracker
	Locks    *guard.ResourceLockManager
	Idem     *guard.IdempotencyGuard
	Metrics  http.Handler
}

func NewHandler(
	policies *guard.PolicyLimiter,
	lockout *guard.AccountLockoutTracker,
	locks *guard.ResourceLockManager,
	idem *guard.IdempotencyGuard,
	metrics http.Handler,
) *Handler {
	return &Handler{
		Policies: policies,
		Lockout:  lockout,
		Locks:    locks,
		Idem:     idem,
		Metrics:  metrics,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/limits/{operation}/check", h.handleCheck)
	mux.HandleFunc("GET /v1/limits/{operation}/status", h.handleStatus)
	mux.HandleFunc("DELETE /v1/limits/{operation}", h.handleReset)
	mux.HandleFunc("POST /v1/lockout/failures", h.handleRecordFailure)
	mux.HandleFunc("GET /v1/lockout", h.handleCheckLockout)
	mux.HandleFunc("DELETE /v1/lockout", h.handleClearLockout)
	mux.HandleFunc("POST /v1/locks", h.handleAcquire)
	mux.HandleFunc("DELETE /v1/locks/{resource}", h.handleRelease)
	mux.HandleFunc("GET /v1/idempotency/{reference}", h.handleLookup)
	mux.HandleFunc("PUT /v1/idempotency/{reference}", h.handleMark)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	return mux
}

type decisionResponse struct {
	types.Decision
	RetryAfter int    `json:"retry_after,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	op, ok := operationFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Identifier string `json:"identifier"`
	}
	if !readJSON(w, r, &req, true) {
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = clientIP(r)
	}
	d, err := h.Policies.Check(r.Context(), op, identifier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeDecision(w, op, d)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	op, ok := operationFromPath(w, r)
	if !ok {
		return
	}
	identifier, ok := requiredQuery(w, r, "identifier")
	if !ok {
		return
	}
	d, err := h.Policies.Status(r.Context(), op, identifier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	setRateLimitHeaders(w, d)
	respond(w, http.StatusOK, decisionResponse{Decision: d, RetryAfter: d.RetryAfterSeconds()})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	op, ok := operationFromPath(w, r)
	if !ok {
		return
	}
	identifier, ok := requiredQuery(w, r, "identifier")
	if !ok {
		return
	}
	if err := h.Policies.Reset(r.Context(), op, identifier); err != nil {
		http.Error(w, "reset failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failureResponse struct {
	types.FailureResult
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Message          string `json:"message,omitempty"`
}

func (h *Handler) handleRecordFailure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if !readJSON(w, r, &req, false) {
		return
	}
	if req.Identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}
	res := h.Lockout.RecordFailure(r.Context(), req.Identity)
	if res.Locked {
		remaining := h.Lockout.CheckLockout(r.Context(), req.Identity).RemainingSeconds
		w.Header().Set("Retry-After", strconv.Itoa(remaining))
		respond(w, http.StatusLocked, failureResponse{
			FailureResult:    res,
			RemainingSeconds: remaining,
			Message:          guard.LockoutMessage(remaining),
		})
		return
	}
	respond(w, http.StatusOK, failureResponse{FailureResult: res})
}

type lockoutResponse struct {
	types.LockoutStatus
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleCheckLockout(w http.ResponseWriter, r *http.Request) {
	identity, ok := requiredQuery(w, r, "identity")
	if !ok {
		return
	}
	st := h.Lockout.CheckLockout(r.Context(), identity)
	if st.Locked {
		w.Header().Set("Retry-After", strconv.Itoa(st.RemainingSeconds))
		respond(w, http.StatusLocked, lockoutResponse{LockoutStatus: st, Message: guard.LockoutMessage(st.RemainingSeconds)})
		return
	}
	respond(w, http.StatusOK, lockoutResponse{LockoutStatus: st})
}

func (h *Handler) handleClearLockout(w http.ResponseWriter, r *http.Request) {
	identity, ok := requiredQuery(w, r, "identity")
	if !ok {
		return
	}
	h.Lockout.ClearOnSuccess(r.Context(), identity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResourceIDs []string `json:"resource_ids"`
	}
	if !readJSON(w, r, &req, false) {
		return
	}
	if len(req.ResourceIDs) == 0 {
		http.Error(w, "missing resource_ids", http.StatusBadRequest)
		return
	}
	for _, id := range req.ResourceIDs {
		if id == "" {
			http.Error(w, "empty resource id", http.StatusBadRequest)
			return
		}
	}
	leases, ok := h.Locks.AcquireMany(r.Context(), req.ResourceIDs)
	if !ok {
		respond(w, http.StatusConflict, map[string]any{"acquired": false})
		return
	}
	respond(w, http.StatusOK, map[string]any{"acquired": true, "leases": leases})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	token := r.URL.Query().Get("token")
	if token == "" {
		h.Locks.Release(r.Context(), resource)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !h.Locks.ReleaseLease(r.Context(), types.Lease{ResourceID: resource, Token: token}) {
		respond(w, http.StatusConflict, map[string]any{"released": false})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.Idem.Lookup(r.Context(), r.PathValue("reference"))
	if !ok {
		http.Error(w, "not processed", http.StatusNotFound)
		return
	}
	respond(w, http.StatusOK, rec)
}

func (h *Handler) handleMark(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	var req struct {
		ResultID string `json:"result_id"`
	}
	if !readJSON(w, r, &req, false) {
		return
	}
	if req.ResultID == "" {
		http.Error(w, "missing result_id", http.StatusBadRequest)
		return
	}
	if h.Idem.MarkProcessed(r.Context(), reference, req.ResultID) {
		rec, _ := h.Idem.Lookup(r.Context(), reference)
		respond(w, http.StatusCreated, rec)
		return
	}
	rec, ok := h.Idem.Lookup(r.Context(), reference)
	if !ok {
		http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
		return
	}
	respond(w, http.StatusOK, rec)
}

func operationFromPath(w http.ResponseWriter, r *http.Request) (types.Operation, bool) {
	op, err := types.ParseOperation(r.PathValue("operation"))
	if err != nil {
		http.Error(w, "unknown operation", http.StatusNotFound)
		return 0, false
	}
	return op, true
}

func requiredQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		http.Error(w, "missing "+name, http.StatusBadRequest)
		return "", false
	}
	return v, true
}

// readJSON decodes the request body into v. An empty body is accepted only when optional.
func readJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return false
	}
	defer func() {
		_ = r.Body.Close()
	}()
	if len(body) == 0 {
		if optional {
			return true
		}
		http.Error(w, "empty body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func setRateLimitHeaders(w http.ResponseWriter, d types.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// writeDecision answers 200 for allowed decisions and 429 with Retry-After otherwise.
func writeDecision(w http.ResponseWriter, op types.Operation, d types.Decision) {
	setRateLimitHeaders(w, d)
	if d.Allowed {
		respond(w, http.StatusOK, decisionResponse{Decision: d})
		return
	}
	retry := d.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	respond(w, http.StatusTooManyRequests, decisionResponse{
		Decision:   d,
		RetryAfter: retry,
		Message:    guard.RejectionMessage(op, retry),
	})
}

func respond(w http.ResponseWriter, code int, v any) {
	if err := writeJSON(w, code, v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

// clientIP extracts the real client IP from X-Forwarded-For or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If SplitHostPort fails, return the RemoteAddr as-is
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
