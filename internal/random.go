package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ErrMalformedSessionID reports a session id that is not 16 base64url-encoded bytes.
var ErrMalformedSessionID = errors.New("malformed session id")

// SessionID is a 128-bit random session identifier.
type SessionID [16]byte

const csrfTokenSize = 32

var encoding = base64.RawURLEncoding

func NewSessionID() (SessionID, error) {
	var sid SessionID
	if _, err := rand.Read(sid[:]); err != nil {
		return SessionID{}, err
	}
	return sid, nil
}

// String renders the id as 22 base64url characters.
func (s SessionID) String() string {
	return encoding.EncodeToString(s[:])
}

func ParseSessionID(s string) (SessionID, error) {
	var sid SessionID
	if encoding.DecodedLen(len(s)) != len(sid) {
		return sid, ErrMalformedSessionID
	}
	n, err := encoding.Decode(sid[:], []byte(s))
	if err != nil || n != len(sid) {
		return SessionID{}, ErrMalformedSessionID
	}
	return sid, nil
}

// NewCSRFToken returns 256 random bits, base64url encoded, for the double-submit cookie.
func NewCSRFToken() (string, error) {
	var raw [csrfTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw[:]), nil
}
