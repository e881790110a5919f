// Package health provides the HTTP liveness and readiness handlers.
//
// Two routes are served:
//
//   - /healthz — liveness; answers 200 as long as the process serves HTTP.
//   - /readyz  — readiness; answers 200 only while every registered
//     [Checker] passes, 503 otherwise.
//
// Both answer with a JSON body carrying the overall status, the build
// version, process uptime, and (for readiness) the per-check outcomes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. Checks here probe
// in-process state (receiver running, backend initialised), so the bound is
// tight.
const checkTimeout = 2 * time.Second

// Checker is a named readiness probe. Check returns nil while the probed
// dependency is healthy and must respect context cancellation.
type Checker struct {
	// Name keys the check's outcome in the JSON response, e.g. "receiver".
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// report is the response body shared by both endpoints.
type report struct {
	Status        string            `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_s"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Handler serves the health routes. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	version  string
	started  time.Time
	checkers []Checker
}

// New builds a [Handler] over the given checkers. Readiness evaluates them
// sequentially in the order given. version appears in every response body;
// pass the empty string to omit it.
func New(version string, checkers ...Checker) *Handler {
	return &Handler{
		version:  version,
		started:  time.Now(),
		checkers: append([]Checker(nil), checkers...),
	}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz answers the liveness probe. A process that can serve the request
// is alive, so the answer is always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.send(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers the readiness probe: 200 when every checker passes, 503
// with per-check detail otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes, ok := h.runChecks(r.Context())

	code := http.StatusOK
	rep := report{Status: "ok", Checks: outcomes}
	if !ok {
		code = http.StatusServiceUnavailable
		rep.Status = "fail"
	}
	h.send(w, code, rep)
}

// runChecks evaluates every checker under [checkTimeout] and reports the
// outcomes plus whether all passed.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	outcomes := make(map[string]string, len(h.checkers))
	ok := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			outcomes[c.Name] = "fail: " + err.Error()
			ok = false
			continue
		}
		outcomes[c.Name] = "ok"
	}
	return outcomes, ok
}

// send stamps the identity fields onto rep and writes it as JSON.
func (h *Handler) send(w http.ResponseWriter, code int, rep report) {
	rep.Version = h.version
	rep.UptimeSeconds = int64(time.Since(h.started).Seconds())

	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}
