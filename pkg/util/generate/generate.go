package generate

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomValidDNS1123Label returns a random lowercase alphanumeric string
// of length n, safe for use in Kubernetes names and collection names.
func RandomValidDNS1123Label(n int) (string, error) {
	b, err := generateRandomBytes((n + 1) / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}

func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}

	return b, nil
}
