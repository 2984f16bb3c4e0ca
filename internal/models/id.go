package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewJobID mints a unique, lexically sortable job id.
func NewJobID() string {
	return strings.ToLower(ulid.Make().String())
}

// NewAgentID mints an id for agents that register without one.
func NewAgentID() string {
	return uuid.New().String()
}

// NewToken mints an opaque capability token for the data plane.
func NewToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

const pairingAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewPairingToken mints a 25-character agent pairing token.
func NewPairingToken() string {
	var b [25]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = pairingAlphabet[int(b[i])%len(pairingAlphabet)]
	}
	return string(b[:])
}
