package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
)

// ticketCodeBytes is 160 bits of entropy.
const ticketCodeBytes = 20

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTicketCode returns a random 32 character code over A-Z and 2-7.  The
// alphabet fits the QR alphanumeric mode and contains no characters that
// need escaping in a URL.
func NewTicketCode() (string, error) {
	buf := make([]byte, ticketCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return codeEncoding.EncodeToString(buf), nil
}

// NewHolderToken returns the bearer secret handed out with a reservation
// and presented again when an order is attached to its holds.
func NewHolderToken() (string, error) {
	return randomHex(24)
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
