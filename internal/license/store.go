package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists trust cache records. The primary file is encrypted with the
// hardware-derived key; a plaintext legacy file is the write fallback and the
// read fallback for caches written before encryption was introduced.
type Store struct {
	path       string
	legacyPath string
	key        []byte
	logger     *slog.Logger
}

// NewStore creates a trust cache store. key must be 32 bytes, as produced by
// DeriveTrustKey.
func NewStore(path, legacyPath string, key []byte, logger *slog.Logger) (*Store, error) {
	if len(key) != kdfKeyLen {
		return nil, fmt.Errorf("trust key must be %d bytes, got %d", kdfKeyLen, len(key))
	}
	if path == "" || legacyPath == "" {
		return nil, fmt.Errorf("cache paths must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:       path,
		legacyPath: legacyPath,
		key:        key,
		logger:     logger.With(slog.String("component", "trust_store")),
	}, nil
}

// Save writes the record to the encrypted primary file. If encryption or the
// write fails, the record is written to the plaintext legacy file instead so
// a verification result is never silently lost.
func (s *Store) Save(rec *CacheRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trust record: %w", err)
	}

	sealed, err := s.encrypt(data)
	if err == nil {
		if err = writeFileAtomic(s.path, sealed, 0o600); err == nil {
			return nil
		}
	}
	s.logger.Warn("encrypted save failed, falling back to plaintext cache",
		slog.String("path", s.path),
		slog.String("error", err.Error()))

	if err := writeFileAtomic(s.legacyPath, data, 0o600); err != nil {
		return fmt.Errorf("write legacy trust cache: %w", err)
	}
	return nil
}

// Load reads the cached record, preferring the encrypted primary file. A
// primary file that cannot be decrypted or parsed is corrupt (or belongs to
// another machine) and is deleted before falling back to the legacy file.
// Returns (nil, nil) when no usable cache exists.
func (s *Store) Load() (*CacheRecord, error) {
	if data, err := os.ReadFile(s.path); err == nil {
		rec, err := s.decode(data)
		if err == nil {
			return rec, nil
		}
		s.logger.Warn("removing unreadable trust cache",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt trust cache", slog.String("error", rmErr.Error()))
		}
	}

	if data, err := os.ReadFile(s.legacyPath); err == nil {
		var rec CacheRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			return &rec, nil
		}
		s.logger.Warn("removing unreadable legacy trust cache", slog.String("path", s.legacyPath))
		if rmErr := os.Remove(s.legacyPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt legacy cache", slog.String("error", rmErr.Error()))
		}
	}

	return nil, nil
}

func (s *Store) decode(data []byte) (*CacheRecord, error) {
	plain, err := s.decrypt(data)
	if err != nil {
		return nil, err
	}
	var rec CacheRecord
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("parse trust record: %w", err)
	}
	return &rec, nil
}

// Delete removes both cache files. Missing files are not an error.
func (s *Store) Delete() error {
	var firstErr error
	for _, path := range []string{s.path, s.legacyPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Exists reports whether either cache file is present.
func (s *Store) Exists() bool {
	if _, err := os.Stat(s.path); err == nil {
		return true
	}
	if _, err := os.Stat(s.legacyPath); err == nil {
		return true
	}
	return false
}

// FileInfo describes one cache file for diagnostics.
type FileInfo struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Size   int64  `json:"size,omitempty"`
}

// DebugInfo reports the on-disk state of both cache files.
func (s *Store) DebugInfo() (primary, legacy FileInfo) {
	primary = statFile(s.path)
	legacy = statFile(s.legacyPath)
	return primary, legacy
}

func statFile(path string) FileInfo {
	info := FileInfo{Path: path}
	if fi, err := os.Stat(path); err == nil {
		info.Exists = true
		info.Size = fi.Size()
	}
	return info
}

// encrypt seals data with AES-256-GCM, prepending the nonce.
func (s *Store) encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("trust cache too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt trust cache: %w", err)
	}
	return plain, nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place so readers never observe a partial write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
