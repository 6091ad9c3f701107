package gatekeeper

import (
	"net/http"
	"time"
)

type Class string

const (
	ClassForbidden          Class = "forbidden"
	ClassTooManyRequests    Class = "too_many_requests"
	ClassUnauthorized       Class = "unauthorized"
	ClassBadRequest         Class = "bad_request"
	ClassClientRejected     Class = "client_rejected"
	ClassServiceUnavailable Class = "service_unavailable"
)

// Mensagens devolvidas ao cliente. Nunca incluem texto interno.
const (
	msgAccessDenied     = "Access denied"
	msgTooManyRequests  = "Too many requests, please try again later."
	msgSessionRequired  = "Session token required"
	msgSessionInvalid   = "Invalid or expired session"
	msgSessionExhausted = "Too many submissions from this session"
	msgInvalidBody      = "Invalid request body"
	msgBodyTooLarge     = "Request body too large"
	msgClientRejected   = "Request could not be processed"
	msgUnavailable      = "Unable to process submission at this time"
	msgInternal         = "Internal server error"
)

// Rejection é a resposta estruturada de uma requisição recusada.
// Err guarda a causa para log; nunca vai para o cliente.
type Rejection struct {
	Class      Class
	Status     int
	Message    string
	Details    []string
	RetryAfter time.Duration
	Err        error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return string(r.Class) + ": " + r.Err.Error()
	}
	return string(r.Class) + ": " + r.Message
}

func (r *Rejection) Unwrap() error { return r.Err }

func forbidden() *Rejection {
	return &Rejection{Class: ClassForbidden, Status: http.StatusForbidden, Message: msgAccessDenied}
}

func tooManyRequests(retryAfter time.Duration) *Rejection {
	return &Rejection{
		Class:      ClassTooManyRequests,
		Status:     http.StatusTooManyRequests,
		Message:    msgTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func unauthorized(msg string, err error) *Rejection {
	return &Rejection{Class: ClassUnauthorized, Status: http.StatusUnauthorized, Message: msg, Err: err}
}

func badRequest(status int, msg string, details []string, err error) *Rejection {
	return &Rejection{Class: ClassBadRequest, Status: status, Message: msg, Details: details, Err: err}
}
