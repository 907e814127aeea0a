// Package certutil generates and persists the private keys used by sensor
// listeners that emulate their protocol.
package certutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// SaveError indicates that a key was successfully generated and is ready for
// use in memory, but could not be saved to disk.
type SaveError struct {
	// Err is the underlying file system error that occurred during saving.
	Err error
}

func (e *SaveError) Error() string {
	return e.Err.Error()
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// GenerateEd25519Key creates a private key. If a path is provided, the key is
// saved to disk. When saving fails, the generated key is still returned and
// remains usable in memory, along with a SaveError.
func GenerateEd25519Key(path string) (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("couldn't generate key: %w", err)
	}

	if path != "" {
		if err := writePrivateKey(key, path); err != nil {
			return key, &SaveError{Err: err}
		}
	}

	return key, nil
}

// writePrivateKey encodes and saves a private key to the specified path in
// PEM format. Key files are readable by the owner only.
func writePrivateKey(key any, path string) error {
	// Create the parent directories if they don't exist.
	if d := filepath.Dir(path); d != "." {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	keyPEM := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyBytes,
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return pem.Encode(file, keyPEM)
}
