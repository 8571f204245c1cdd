// Package csrf implements HMAC signed double-submit tokens. A token is bound
// to a random binding value that the browser holds in a cookie; a form post
// is accepted only when its token validates against the cookie's binding.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	randLength    = 32
	bindingLength = 32

	// MinKeyLength is the minimum accepted secret length in bytes.
	MinKeyLength = 32
)

var ErrKeyTooShort = fmt.Errorf("csrf key must be at least %d bytes", MinKeyLength)

func formMessage(binding, randValue string) []byte {
	return fmt.Appendf(nil, "%d!%s!%d!%s", len(binding), binding, len(randValue), randValue)
}

func randHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}

// CheckKey reports whether key is long enough to sign tokens.
func CheckKey(key []byte) error {
	if len(key) < MinKeyLength {
		return ErrKeyTooShort
	}

	return nil
}

// NewBinding returns a fresh random binding value for the cookie.
func NewBinding() string {
	return randHex(bindingLength)
}

// Bind ties a cookie binding to a browser fingerprint. An empty binding
// stays empty so that Validate rejects it.
func Bind(binding, fingerprint string) string {
	if binding == "" {
		return ""
	}

	return binding + "." + fingerprint
}

// Issue returns a new cookie binding together with a token bound to it and
// to the fingerprint.
func Issue(key []byte, fingerprint string) (binding, token string) {
	binding = NewBinding()
	return binding, NewToken(Bind(binding, fingerprint), key)
}

func NewToken(binding string, key []byte) string {
	randValue := randHex(randLength)

	hash := hmac.New(sha256.New, key)
	hash.Write(formMessage(binding, randValue))

	return hex.EncodeToString(hash.Sum(nil)) + "." + randValue
}

func Validate(token, binding string, key []byte) bool {
	if binding == "" {
		return false
	}

	hmacPart, randValue, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(randValue, ".") {
		return false
	}

	receivedHmacValue, err := hex.DecodeString(hmacPart)
	if err != nil {
		return false
	}

	if _, err := hex.DecodeString(randValue); err != nil {
		return false
	}

	hash := hmac.New(sha256.New, key)
	hash.Write(formMessage(binding, randValue))

	return hmac.Equal(receivedHmacValue, hash.Sum(nil))
}
