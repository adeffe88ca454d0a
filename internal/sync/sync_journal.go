package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mirrorsync/mirrorsync/internal/db"
	"github.com/mirrorsync/mirrorsync/internal/utils"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_journal (
    path TEXT PRIMARY KEY,
    digest_a TEXT NOT NULL,
    digest_b TEXT NOT NULL,
    size INTEGER NOT NULL,
    last_synced TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_journal_digest_a ON sync_journal(digest_a);
CREATE INDEX IF NOT EXISTS idx_journal_digest_b ON sync_journal(digest_b);
`

// SyncedRecord is the journal row for one path: the digests both sides
// held the last time they agreed. It is the base of every three-way
// comparison; a missing row means the path was never synchronized.
type SyncedRecord struct {
	Path         string    `json:"path"`
	DigestA      string    `json:"digestA"`
	DigestB      string    `json:"digestB"`
	Size         int64     `json:"size"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// dbSyncedRecord mirrors SyncedRecord for scanning; time is TEXT.
type dbSyncedRecord struct {
	Path       string `db:"path"`
	DigestA    string `db:"digest_a"`
	DigestB    string `db:"digest_b"`
	Size       int64  `db:"size"`
	LastSynced string `db:"last_synced"`
}

func (r dbSyncedRecord) record() (*SyncedRecord, error) {
	at, err := time.Parse(time.RFC3339, r.LastSynced)
	if err != nil {
		return nil, fmt.Errorf("parse last_synced for %s: %w", r.Path, err)
	}
	return &SyncedRecord{
		Path:         r.Path,
		DigestA:      r.DigestA,
		DigestB:      r.DigestB,
		Size:         r.Size,
		LastSyncedAt: at,
	}, nil
}

// SyncJournal persists the synced baseline in SQLite. Only the engine
// writes to it, and only after the corresponding location operation
// succeeded.
type SyncJournal struct {
	db     *sqlx.DB
	dbPath string
}

func NewSyncJournal(dbPath string) *SyncJournal {
	return &SyncJournal{dbPath: dbPath}
}

// Open creates the database file and schema if needed.
func (j *SyncJournal) Open() error {
	if j.db != nil {
		return errors.New("sync journal already open")
	}

	if err := utils.EnsureDir(filepath.Dir(j.dbPath)); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	sdb, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open sync journal: %w", err)
	}

	if _, err := sdb.Exec(journalSchema); err != nil {
		sdb.Close()
		return fmt.Errorf("init journal schema: %w", err)
	}

	j.db = sdb
	return nil
}

func (j *SyncJournal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Get returns the row for path, or nil when the path was never synced.
func (j *SyncJournal) Get(path string) (*SyncedRecord, error) {
	var row dbSyncedRecord
	err := j.db.Get(&row, "SELECT path, digest_a, digest_b, size, last_synced FROM sync_journal WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal get %s: %w", path, err)
	}
	return row.record()
}

// Set inserts or replaces the row for rec.Path.
func (j *SyncJournal) Set(rec *SyncedRecord) error {
	if rec == nil {
		return errors.New("cannot set nil record")
	}

	row := dbSyncedRecord{
		Path:       rec.Path,
		DigestA:    rec.DigestA,
		DigestB:    rec.DigestB,
		Size:       rec.Size,
		LastSynced: rec.LastSyncedAt.UTC().Format(time.RFC3339),
	}

	query := `INSERT OR REPLACE INTO sync_journal (path, digest_a, digest_b, size, last_synced)
	          VALUES (:path, :digest_a, :digest_b, :size, :last_synced)`
	if _, err := j.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("journal set %s: %w", rec.Path, err)
	}
	slog.Debug("journal set", "path", rec.Path, "digestA", rec.DigestA, "digestB", rec.DigestB)
	return nil
}

// Delete evicts the row for path. Evicting an absent row is a no-op.
func (j *SyncJournal) Delete(path string) error {
	if _, err := j.db.Exec("DELETE FROM sync_journal WHERE path = ?", path); err != nil {
		return fmt.Errorf("journal delete %s: %w", path, err)
	}
	return nil
}

// State loads the whole journal as a path-keyed map.
func (j *SyncJournal) State() (map[string]*SyncedRecord, error) {
	var rows []dbSyncedRecord
	if err := j.db.Select(&rows, "SELECT path, digest_a, digest_b, size, last_synced FROM sync_journal"); err != nil {
		return nil, fmt.Errorf("journal state: %w", err)
	}

	state := make(map[string]*SyncedRecord, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			// Corrupt timestamp. Drop the row from the view; the path
			// will reclassify as never-synced and re-converge.
			slog.Error("journal skip corrupt row", "path", row.Path, "error", err)
			continue
		}
		state[rec.Path] = rec
	}
	return state, nil
}

// Count returns the number of journal rows.
func (j *SyncJournal) Count() (int, error) {
	var count int
	if err := j.db.Get(&count, "SELECT COUNT(*) FROM sync_journal"); err != nil {
		return 0, fmt.Errorf("journal count: %w", err)
	}
	return count, nil
}
