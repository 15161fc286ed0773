package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	healthStatusOK          = "ok"
	healthStatusUnavailable = "unavailable"
)

// ReadyCheck reports whether a subsystem can serve. Nil means ready.
type ReadyCheck func(ctx context.Context) error

type healthBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// HealthHandler serves liveness: always 200 {"status":"ok"}.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeHealth(rw, http.StatusOK, healthBody{Status: healthStatusOK})
	})
}

// ReadyHandler runs checks in order and answers 503 with the first failure's
// message, or 200 when all pass.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		for _, check := range checks {
			if err := check(hr.Context()); err != nil {
				writeHealth(rw, http.StatusServiceUnavailable,
					healthBody{Status: healthStatusUnavailable, Reason: err.Error()})

				return
			}
		}

		writeHealth(rw, http.StatusOK, healthBody{Status: healthStatusOK})
	})
}

func writeHealth(rw http.ResponseWriter, code int, body healthBody) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	// The status line is already out; an encode failure has nowhere to go.
	_ = json.NewEncoder(rw).Encode(body)
}
