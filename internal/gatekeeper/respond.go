package gatekeeper

import (
	"encoding/json"
	"net/http"
	"strconv"

	"form-gateway/middleware/ratelimit"
	"form-gateway/middleware/ratelimit/domain"
)

type errorBody struct {
	Success    bool     `json:"success"`
	Error      string   `json:"error"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
	RequestID  string   `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRejection escreve a recusa. Para TooManyRequests também escreve
// Retry-After (e RateLimit-* quando dec tem limite), seja qual for a origem.
func writeRejection(w http.ResponseWriter, rej *Rejection, dec domain.Decision, requestID string) {
	body := errorBody{Success: false, Error: rej.Message, Details: rej.Details}
	if rej.Class == ClassClientRejected || rej.Class == ClassServiceUnavailable {
		body.RequestID = requestID
	}
	if rej.Class == ClassTooManyRequests && rej.RetryAfter > 0 {
		dec.Allowed = false
		dec.RetryAfter = rej.RetryAfter
		ratelimit.WriteDecisionHeaders(w.Header(), dec)
		body.RetryAfter, _ = strconv.Atoi(w.Header().Get("Retry-After"))
	}
	writeJSON(w, rej.Status, body)
}

// WriteRateLimited é a resposta JSON usada pelo middleware de rate limit nas
// rotas de status, igual à do pipeline.
func WriteRateLimited(w http.ResponseWriter, _ *http.Request, dec domain.Decision) {
	writeRejection(w, tooManyRequests(dec.RetryAfter), dec, "")
}

// WriteBusy responde quando o limite de concorrência recusa a requisição.
func WriteBusy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Server busy, please try again later."})
}

// WriteInternalError é usado pelo recovery do router.
func WriteInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgInternal})
}
