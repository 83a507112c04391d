package vision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	stopKeyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	stopKeyLength   = 16
)

// newStopKey returns a random alphanumeric token authorizing /stop.
func newStopKey() (string, error) {
	b := make([]byte, stopKeyLength)
	limit := big.NewInt(int64(len(stopKeyAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("stop key: %w", err)
		}
		b[i] = stopKeyAlphabet[n.Int64()]
	}
	return string(b), nil
}
