// Package ids generates random identifiers used where the wire
// protocol or data model calls for an opaque unique string outside of
// request IDs (which use github.com/google/uuid directly).
package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random 32-character hex string, suitable as a client
// remote_id.
func New() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// ShortHex returns a random hex string of exactly n characters, used
// for the auto-generated session name suffix `<basename(dir)>-<4 hex
// chars>` from SPEC_FULL.md §4.7.
func ShortHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)[:n]
}
