// Package certstore locates the CA certificate used to verify the broker.
//
// Certificates are looked up through a small read-only capability so the
// same code works against a directory on disk, an embedded filesystem or an
// in-memory map in tests.
package certstore

import (
	"crypto/x509"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// CertFile is the name of the persisted broker CA certificate.
	CertFile = "mqtt_ca.crt"

	// MaxCertSize bounds a persisted certificate bundle.
	MaxCertSize = 16 << 10
)

// Store is a read-only certificate store.
type Store interface {
	Exists(name string) bool
	ReadAll(name string) ([]byte, error)
}

// FS is a Store backed by an fs.FS.
type FS struct {
	fsys fs.FS
}

// New returns a Store reading from fsys.
func New(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Dir returns a Store reading from the directory at path.
func Dir(path string) *FS {
	return New(os.DirFS(path))
}

// Exists reports whether name is a regular file in the store.
func (s *FS) Exists(name string) bool {
	info, err := fs.Stat(s.fsys, name)
	return err == nil && info.Mode().IsRegular()
}

// ReadAll returns the contents of name.
func (s *FS) ReadAll(name string) ([]byte, error) {
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("certstore: read %s: %w", name, err)
	}
	return data, nil
}

// Validate checks that data is a PEM bundle holding at least one certificate.
func Validate(data []byte) error {
	if len(data) > MaxCertSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrCertificateTooLarge, len(data), MaxCertSize)
	}
	if !x509.NewCertPool().AppendCertsFromPEM(data) {
		return ErrNoCertificate
	}
	return nil
}

// Install validates data and stores it as CertFile in dir. The file is
// replaced atomically.
func Install(dir string, data []byte) (string, error) {
	if err := Validate(data); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("certstore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, CertFile+".*")
	if err != nil {
		return "", fmt.Errorf("certstore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("certstore: write certificate: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("certstore: chmod certificate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("certstore: close certificate: %w", err)
	}

	dest := filepath.Join(dir, CertFile)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("certstore: install certificate: %w", err)
	}
	return dest, nil
}
