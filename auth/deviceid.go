package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

const deviceIDFile = "device-id"

// LoadOrCreateDeviceID returns the device id stored in dir, creating and
// persisting a new one on first use. A key is bound to the first device id
// it is used with, so the id must stay stable across runs.
func LoadOrCreateDeviceID(dir string) (string, error) {
	path := filepath.Join(dir, deviceIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id, err := NewDeviceID()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}

// NewDeviceID derives a fresh id from host properties and random salt.
func NewDeviceID() (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	host, _ := os.Hostname()

	h := blake3.New()
	h.Write([]byte(host))
	h.Write([]byte{0})
	h.Write([]byte(os.Getenv("USER")))
	h.Write([]byte{0})
	h.Write(salt)
	sum := h.Sum(nil)
	return "device-" + hex.EncodeToString(sum[:8]), nil
}
