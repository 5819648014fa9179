package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/hotlist"
	"github.com/elonfeng/modelwatch/pkg/score"
	"github.com/elonfeng/modelwatch/pkg/selector"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAppendOnly is returned when a save would replace an accepted
	// hotlist entry with a different one.
	ErrAppendOnly = errors.New("hotlist entry is immutable")
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string `db:"id" json:"id"`
	Command    string `db:"command" json:"command"`
	StartedAt  string `db:"started_at" json:"started_at"`
	FinishedAt string `db:"finished_at" json:"finished_at,omitempty"`
	Status     string `db:"status" json:"status"`
	Detail     string `db:"detail" json:"detail,omitempty"`
}

// Store is the persistence interface.
type Store interface {
	catalog.CorpusStore

	RecordSnapshot(ctx context.Context, day string, snap score.Snapshot) (int, error)
	LoadSnapshot(ctx context.Context, day string) (score.Snapshot, error)
	SnapshotDays(ctx context.Context) ([]string, error)

	LoadHotlist(ctx context.Context, name string) (*hotlist.Hotlist, error)
	SaveHotlist(ctx context.Context, name string, h *hotlist.Hotlist) error

	SaveDaily(ctx context.Context, d *selector.Daily) error
	LoadDaily(ctx context.Context, day string) (*selector.Daily, error)
	ListArchives(ctx context.Context, since string) ([]selector.Archive, error)
	Dates(ctx context.Context, limit int) ([]string, error)

	StartRun(ctx context.Context, id, command string, at time.Time) error
	FinishRun(ctx context.Context, id, status, detail string, at time.Time) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LoadCorpus returns the persisted corpus of source, or nil when none was
// saved. Rows that fail to decode are skipped.
func (s *SQLiteStore) LoadCorpus(ctx context.Context, source catalog.SourceKind) (*catalog.Corpus, error) {
	var meta struct {
		ETag      string `db:"etag"`
		UpdatedAt string `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &meta, "SELECT etag, updated_at FROM corpus_meta WHERE source = ?", source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", source, err)
	}

	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads,
		"SELECT payload FROM corpus_items WHERE source = ? ORDER BY position", source); err != nil {
		return nil, fmt.Errorf("load corpus items %s: %w", source, err)
	}

	c := &catalog.Corpus{Source: source, ETag: meta.ETag, UpdatedAt: parseTime(meta.UpdatedAt)}
	for _, p := range payloads {
		var it catalog.Item
		if err := json.Unmarshal([]byte(p), &it); err != nil || it.ID == "" {
			continue
		}
		c.Items = append(c.Items, it)
	}
	return c, nil
}

// SaveCorpus replaces the persisted corpus of c.Source in one transaction.
func (s *SQLiteStore) SaveCorpus(ctx context.Context, c *catalog.Corpus) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin corpus tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM corpus_items WHERE source = ?", c.Source); err != nil {
		return fmt.Errorf("clear corpus %s: %w", c.Source, err)
	}
	for i, it := range c.Items {
		payload, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO corpus_items (source, item_id, position, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(source, item_id) DO NOTHING
		`, c.Source, it.ID, i, string(payload)); err != nil {
			return fmt.Errorf("insert corpus item %s: %w", it.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO corpus_meta (source, etag, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET etag = excluded.etag, updated_at = excluded.updated_at
	`, c.Source, c.ETag, formatTime(c.UpdatedAt)); err != nil {
		return fmt.Errorf("save corpus meta %s: %w", c.Source, err)
	}
	return tx.Commit()
}

// RecordSnapshot stores snap under day. Entries already recorded for that
// day are kept as they are; the number of new rows is returned.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, day string, snap score.Snapshot) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for id, e := range snap {
		metrics, err := json.Marshal(e.Metrics)
		if err != nil {
			return 0, fmt.Errorf("encode snapshot %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO snapshots (day, item_id, metrics, updated_at)
			VALUES (?, ?, ?, ?)
		`, day, id, string(metrics), formatTime(e.UpdatedAt))
		if err != nil {
			return 0, fmt.Errorf("insert snapshot %s/%s: %w", day, id, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot %s: %w", day, err)
	}
	return inserted, nil
}

// LoadSnapshot returns the snapshot of day, empty when none exists.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, day string) (score.Snapshot, error) {
	var rows []struct {
		ItemID    string `db:"item_id"`
		Metrics   string `db:"metrics"`
		UpdatedAt string `db:"updated_at"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT item_id, metrics, updated_at FROM snapshots WHERE day = ?", day); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", day, err)
	}

	snap := make(score.Snapshot, len(rows))
	for _, r := range rows {
		var m map[string]float64
		if err := json.Unmarshal([]byte(r.Metrics), &m); err != nil {
			continue
		}
		snap[r.ItemID] = score.SnapshotEntry{Metrics: m, UpdatedAt: parseTime(r.UpdatedAt)}
	}
	return snap, nil
}

// SnapshotDays lists recorded days, most recent first.
func (s *SQLiteStore) SnapshotDays(ctx context.Context) ([]string, error) {
	var days []string
	if err := s.db.SelectContext(ctx, &days,
		"SELECT DISTINCT day FROM snapshots ORDER BY day DESC"); err != nil {
		return nil, fmt.Errorf("list snapshot days: %w", err)
	}
	return days, nil
}

type entryRow struct {
	TaskKey string `db:"task_key"`
	EntryID string `db:"entry_id"`
	Kind    string `db:"kind"`
	Payload string `db:"payload"`
	AddedAt string `db:"added_at"`
}

// entry decodes the stored payload. A payload that no longer decodes is
// replaced by a bare entry with the stored id so that later positions in
// the bucket do not shift; the next save rewrites the payload.
func (r entryRow) entry() hotlist.Entry {
	if e, err := hotlist.UnmarshalEntry([]byte(r.Payload)); err == nil && e.EntryID() == r.EntryID {
		return e
	}
	if hotlist.Kind(r.Kind) == hotlist.KindPlaceholder {
		prefix := "placeholder:" + r.TaskKey + ":"
		if idx, err := strconv.Atoi(strings.TrimPrefix(r.EntryID, prefix)); err == nil && strings.HasPrefix(r.EntryID, prefix) {
			return hotlist.Placeholder{TaskKey: r.TaskKey, Index: idx, AddedAt: r.AddedAt}
		}
	}
	return hotlist.Real{ID: r.EntryID, AddedAt: r.AddedAt}
}

// LoadHotlist returns the named hotlist, empty when none was saved.
func (s *SQLiteStore) LoadHotlist(ctx context.Context, name string) (*hotlist.Hotlist, error) {
	h := hotlist.New()

	var meta struct {
		Version   int    `db:"version"`
		UpdatedAt string `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &meta, "SELECT version, updated_at FROM hotlists WHERE name = ?", name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return h, nil
	case err != nil:
		return nil, fmt.Errorf("load hotlist %s: %w", name, err)
	}
	h.Version = meta.Version
	h.UpdatedAt = parseTime(meta.UpdatedAt)

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT task_key, entry_id, kind, payload, added_at FROM hotlist_entries
		WHERE hotlist = ? ORDER BY task_key, position
	`, name); err != nil {
		return nil, fmt.Errorf("load hotlist entries %s: %w", name, err)
	}
	for _, r := range rows {
		h.ByCategory[r.TaskKey] = append(h.ByCategory[r.TaskKey], r.entry())
	}
	h.Normalize()
	return h, nil
}

// SaveHotlist appends new entries of h. An existing position may only be
// rewritten with the same entry id, which is how backfilled task keys are
// persisted.
func (s *SQLiteStore) SaveHotlist(ctx context.Context, name string, h *hotlist.Hotlist) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hotlist tx: %w", err)
	}
	defer tx.Rollback()

	for _, key := range h.Keys() {
		for pos, e := range h.ByCategory[key] {
			payload, err := hotlist.MarshalEntry(e)
			if err != nil {
				return fmt.Errorf("encode entry %s: %w", e.EntryID(), err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO hotlist_entries (hotlist, task_key, position, entry_id, kind, payload, added_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(hotlist, task_key, position) DO UPDATE SET payload = excluded.payload
				WHERE hotlist_entries.entry_id = excluded.entry_id
			`, name, key, pos, e.EntryID(), string(e.Kind()), string(payload), addedAt(e))
			if err != nil {
				return fmt.Errorf("save entry %s/%s: %w", name, e.EntryID(), err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("save entry %s/%s at %d: %w", name, key, pos, ErrAppendOnly)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO hotlists (name, version, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, name, h.Version, formatTime(h.UpdatedAt)); err != nil {
		return fmt.Errorf("save hotlist %s: %w", name, err)
	}
	return tx.Commit()
}

func addedAt(e hotlist.Entry) string {
	switch v := e.(type) {
	case hotlist.Real:
		return v.AddedAt
	case hotlist.Placeholder:
		return v.AddedAt
	}
	return ""
}

// SaveDaily stores d, replacing an earlier selection of the same day.
func (s *SQLiteStore) SaveDaily(ctx context.Context, d *selector.Daily) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode daily %s: %w", d.Date, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_selections (day, run_id, generated_at, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			run_id = excluded.run_id,
			generated_at = excluded.generated_at,
			payload = excluded.payload
	`, d.Date, d.RunID, formatTime(d.GeneratedAt), string(payload))
	if err != nil {
		return fmt.Errorf("save daily %s: %w", d.Date, err)
	}
	return nil
}

// LoadDaily returns the selection of day or ErrNotFound.
func (s *SQLiteStore) LoadDaily(ctx context.Context, day string) (*selector.Daily, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, "SELECT payload FROM daily_selections WHERE day = ?", day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("daily %s: %w", day, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load daily %s: %w", day, err)
	}
	var d selector.Daily
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("decode daily %s: %w", day, err)
	}
	return &d, nil
}

// ListArchives returns the selections of every day on or after since.
// Undecodable rows are skipped.
func (s *SQLiteStore) ListArchives(ctx context.Context, since string) ([]selector.Archive, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT payload FROM daily_selections WHERE day >= ? ORDER BY day DESC", since); err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]selector.Archive, 0, len(rows))
	for _, p := range rows {
		var a selector.Archive
		if err := json.Unmarshal([]byte(p), &a); err != nil || a.Day == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Dates lists selection days, most recent first.
func (s *SQLiteStore) Dates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = selector.MaxDates
	}
	var days []string
	if err := s.db.SelectContext(ctx, &days,
		"SELECT day FROM daily_selections ORDER BY day DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	return days, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, id, command string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, command, started_at, status) VALUES (?, ?, ?, 'running')",
		id, command, formatTime(at))
	if err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id, status, detail string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ?, detail = ? WHERE id = ?",
		formatTime(at), status, detail, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM runs ORDER BY started_at DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
