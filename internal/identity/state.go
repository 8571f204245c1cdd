package identity

import "crypto/rand"

// StateSource generates the opaque state value sent with each authorize request.
type StateSource interface {
	State() string
}

type randomSource struct{}

// State returns 26 base32 characters (130 bits) read from crypto/rand.
func (randomSource) State() string {
	return rand.Text()
}
