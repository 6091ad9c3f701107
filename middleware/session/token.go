package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const tokenBytes = 32

func newToken(src io.Reader) (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(src, b); err != nil {
		return "", fmt.Errorf("session: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var defaultEntropy io.Reader = rand.Reader
