package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// FileKEKRecordStore persists KEK records as JSON files on the local file
// system, one file per entity under the base directory.
type FileKEKRecordStore struct {
	baseDir string
	log     *slog.Logger
}

// fileRecord is the on-disk shape: method name to base64 of the envelope's
// salt||nonce||ciphertext bytes.
type fileRecord struct {
	Entries map[string]string `json:"entries"`
}

// NewFileKEKRecordStore creates a file-backed record store rooted at
// baseDir, creating the directory if needed.
func NewFileKEKRecordStore(baseDir string, log *slog.Logger) (*FileKEKRecordStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileKEKRecordStore{baseDir: baseDir, log: log}, nil
}

func (s *FileKEKRecordStore) Load(ctx context.Context, id interfaces.EntityID) (interfaces.KEKRecord, error) {
	path := s.recordPath(id)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return interfaces.KEKRecord{}, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return interfaces.KEKRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var stored fileRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return interfaces.KEKRecord{}, fmt.Errorf("failed to parse record file: %w", err)
	}

	record := interfaces.KEKRecord{Entries: make(map[interfaces.UnlockMethod]cryptoutils.Envelope, len(stored.Entries))}
	for method, encoded := range stored.Entries {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return interfaces.KEKRecord{}, fmt.Errorf("failed to decode envelope for method %q: %w", method, err)
		}
		env, err := cryptoutils.ParseEnvelope(raw)
		if err != nil {
			return interfaces.KEKRecord{}, fmt.Errorf("failed to parse envelope for method %q: %w", method, err)
		}
		record.Entries[interfaces.UnlockMethod(method)] = env
	}

	s.log.Debug("Loaded KEK record", slog.String("entity", string(id)), slog.Int("methods", len(record.Entries)))
	return record, nil
}

func (s *FileKEKRecordStore) Store(ctx context.Context, id interfaces.EntityID, record interfaces.KEKRecord) error {
	stored := fileRecord{Entries: make(map[string]string, len(record.Entries))}
	for method, env := range record.Entries {
		stored.Entries[string(method)] = base64.StdEncoding.EncodeToString(env.Bytes())
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	path := s.recordPath(id)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.log.Debug("Stored KEK record", slog.String("entity", string(id)), slog.Int("methods", len(record.Entries)))
	return nil
}

func (s *FileKEKRecordStore) recordPath(id interfaces.EntityID) string {
	// Entity IDs come from the surrounding system; URL-safe base64 keeps
	// arbitrary IDs filesystem-safe.
	name := base64.URLEncoding.EncodeToString([]byte(id)) + ".json"
	return filepath.Join(s.baseDir, name)
}
