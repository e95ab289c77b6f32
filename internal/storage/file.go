package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pagewatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files (all under the configured path prefix):
//   - <prefix>.monitoring.json
//   - <prefix>.reference.json  (PNG bytes are base64 inside the JSON)
//   - <prefix>.settings.json
//
// Every write goes through a tmp file + rename so a crash mid-write never
// leaves a torn record.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	monitoringPath string
	referencePath  string
	settingsPath   string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:            log,
		monitoringPath: prefix + ".monitoring.json",
		referencePath:  prefix + ".reference.json",
		settingsPath:   prefix + ".settings.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Monitoring(ctx context.Context) (MonitoringRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec MonitoringRecord
	ok, err := readJSON(s.monitoringPath, &rec)
	return rec, ok, err
}

func (s *fileStore) PutMonitoring(ctx context.Context, rec MonitoringRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.monitoringPath, rec)
}

func (s *fileStore) Reference(ctx context.Context) (*ReferenceRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec ReferenceRecord
	ok, err := readJSON(s.referencePath, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *fileStore) PutReference(ctx context.Context, rec *ReferenceRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		err := os.Remove(s.referencePath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return writeJSONAtomic(s.referencePath, rec)
}

func (s *fileStore) Settings(ctx context.Context) (SettingsRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec SettingsRecord
	ok, err := readJSON(s.settingsPath, &rec)
	return rec, ok, err
}

func (s *fileStore) PutSettings(ctx context.Context, rec SettingsRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.settingsPath, rec)
}

func readJSON(path string, out any) (bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
