//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "pagewatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each record in a single-row table keyed by a fixed id,
// so "exactly one reference/config at a time" is enforced by the schema.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Monitoring(ctx context.Context) (MonitoringRecord, bool, error) {
	var (
		rec         MonitoringRecord
		lastCheckMS sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT active, interval_min_s, interval_max_s, auto_refresh, settle_ms, last_check_ms
		 FROM monitoring WHERE id = 1`).
		Scan(&rec.Active, &rec.IntervalMinSeconds, &rec.IntervalMaxSeconds,
			&rec.AutoRefresh, &rec.RefreshSettleDelayMS, &lastCheckMS)
	if errors.Is(err, sql.ErrNoRows) {
		return MonitoringRecord{}, false, nil
	}
	if err != nil {
		return MonitoringRecord{}, false, err
	}
	if lastCheckMS.Valid {
		t := time.UnixMilli(lastCheckMS.Int64)
		rec.LastCheckAt = &t
	}
	return rec, true, nil
}

func (s *sqliteStore) PutMonitoring(ctx context.Context, rec MonitoringRecord) error {
	var lastCheckMS any
	if rec.LastCheckAt != nil {
		lastCheckMS = rec.LastCheckAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitoring(id, active, interval_min_s, interval_max_s, auto_refresh, settle_ms, last_check_ms)
		 VALUES(1,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   active=excluded.active, interval_min_s=excluded.interval_min_s,
		   interval_max_s=excluded.interval_max_s, auto_refresh=excluded.auto_refresh,
		   settle_ms=excluded.settle_ms, last_check_ms=excluded.last_check_ms`,
		rec.Active, rec.IntervalMinSeconds, rec.IntervalMaxSeconds,
		rec.AutoRefresh, rec.RefreshSettleDelayMS, lastCheckMS)
	return err
}

func (s *sqliteStore) Reference(ctx context.Context) (*ReferenceRecord, error) {
	var (
		rec       ReferenceRecord
		captured  int64
		keyphrase sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT target_url, captured_ms, png, key_phrases FROM reference WHERE id = 1`).
		Scan(&rec.TargetURL, &captured, &rec.PNG, &keyphrase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.CapturedAt = time.UnixMilli(captured)
	if keyphrase.Valid && keyphrase.String != "" {
		if err := json.Unmarshal([]byte(keyphrase.String), &rec.KeyPhrases); err != nil {
			return nil, fmt.Errorf("decode key_phrases: %w", err)
		}
	}
	return &rec, nil
}

func (s *sqliteStore) PutReference(ctx context.Context, rec *ReferenceRecord) error {
	if rec == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM reference WHERE id = 1`)
		return err
	}
	phrases, err := json.Marshal(rec.KeyPhrases)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reference(id, target_url, captured_ms, png, key_phrases)
		 VALUES(1,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   target_url=excluded.target_url, captured_ms=excluded.captured_ms,
		   png=excluded.png, key_phrases=excluded.key_phrases`,
		rec.TargetURL, rec.CapturedAt.UnixMilli(), rec.PNG, string(phrases))
	return err
}

func (s *sqliteStore) Settings(ctx context.Context) (SettingsRecord, bool, error) {
	var (
		rec      SettingsRecord
		keywords sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT bot_token, chat_id, keywords FROM settings WHERE id = 1`).
		Scan(&rec.BotToken, &rec.ChatID, &keywords)
	if errors.Is(err, sql.ErrNoRows) {
		return SettingsRecord{}, false, nil
	}
	if err != nil {
		return SettingsRecord{}, false, err
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &rec.Keywords); err != nil {
			return SettingsRecord{}, false, fmt.Errorf("decode keywords: %w", err)
		}
	}
	return rec, true, nil
}

func (s *sqliteStore) PutSettings(ctx context.Context, rec SettingsRecord) error {
	keywords, err := json.Marshal(rec.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings(id, bot_token, chat_id, keywords)
		 VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   bot_token=excluded.bot_token, chat_id=excluded.chat_id, keywords=excluded.keywords`,
		rec.BotToken, rec.ChatID, string(keywords))
	return err
}
