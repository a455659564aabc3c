package queue

import "crypto/rand"

// newDeleteToken returns a fresh opaque claim credential. Overridable in
// tests to exercise token-generation failures.
var newDeleteToken = generateDeleteToken

func generateDeleteToken() (string, error) {
	b := make([]byte, deleteTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, deleteTokenLength)
	for i := range b {
		out[i] = deleteTokenAlphabet[int(b[i])%len(deleteTokenAlphabet)]
	}
	return string(out), nil
}
