package delivery

import (
	"errors"
	"fmt"
)

var ErrNotConfigured = errors.New("delivery: webhook url and api key are required")

// ClientRejectedError: o webhook respondeu 4xx. Não há nova tentativa.
type ClientRejectedError struct {
	Status int
}

func (e *ClientRejectedError) Error() string {
	return fmt.Sprintf("delivery: webhook rejected request with status %d", e.Status)
}

// FailedError: todas as tentativas falharam; Err é o último erro visto.
type FailedError struct {
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("delivery: failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// StatusError é o erro registrado para respostas que não são 2xx nem 4xx.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d", e.Status)
}
