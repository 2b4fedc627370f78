package shared

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands the master session secret into an independent
// purpose-bound key, so session signing and CSRF tokens never share key
// material even though operators configure a single secret.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("derive key: master secret empty")
	}
	reader := hkdf.New(sha256.New, master, nil, []byte("calyx/"+purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key %q: %w", purpose, err)
	}
	return key, nil
}
