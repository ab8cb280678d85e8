package progress

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // Register the pure-Go SQLite driver.

	"github.com/AntoineDubuc/theodore/internal/model"
)

// persister owns the bus's three persistence surfaces: the canonical JSON
// snapshot file external processes tail, a SQLite database that survives
// restarts, and a human-readable tail log. Any of the three may be
// disabled by an empty path.
type persister struct {
	snapshotPath string
	db           *sql.DB
	tail         *os.File
}

const progressMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	company    TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	data       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
`

func newPersister(snapshotPath, databasePath, tailLogPath string) (*persister, error) {
	p := &persister{snapshotPath: snapshotPath}

	if databasePath != "" {
		dsn := databasePath
		if !strings.Contains(dsn, "?") {
			dsn += "?"
		} else {
			dsn += "&"
		}
		dsn += "_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, eris.Wrap(err, "progress: open database")
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, eris.Wrap(err, "progress: ping database")
		}
		if _, err := db.Exec(progressMigration); err != nil {
			_ = db.Close()
			return nil, eris.Wrap(err, "progress: migrate database")
		}
		p.db = db
	}

	if tailLogPath != "" {
		f, err := os.OpenFile(tailLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			if p.db != nil {
				_ = p.db.Close()
			}
			return nil, eris.Wrap(err, "progress: open tail log")
		}
		p.tail = f
	}

	return p, nil
}

func (p *persister) close() error {
	var firstErr error
	if p.db != nil {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = eris.Wrap(err, "progress: close database")
		}
		p.db = nil
	}
	if p.tail != nil {
		if err := p.tail.Close(); err != nil && firstErr == nil {
			firstErr = eris.Wrap(err, "progress: close tail log")
		}
		p.tail = nil
	}
	return firstErr
}

// loadJobs restores previously persisted jobs from the database.
func (p *persister) loadJobs() ([]*model.JobProgress, error) {
	if p.db == nil {
		return nil, nil
	}
	rows, err := p.db.Query(`SELECT data FROM jobs ORDER BY started_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "progress: load jobs")
	}
	defer rows.Close()

	var out []*model.JobProgress
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "progress: scan job")
		}
		var job model.JobProgress
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, eris.Wrap(err, "progress: unmarshal job")
		}
		out = append(out, &job)
	}
	return out, eris.Wrap(rows.Err(), "progress: iterate jobs")
}

// saveJob upserts one job into the database and rewrites the full JSON
// snapshot atomically.
func (p *persister) saveJob(job *model.JobProgress, all []*model.JobProgress) error {
	if p.db != nil {
		raw, err := json.Marshal(job)
		if err != nil {
			return eris.Wrap(err, "progress: marshal job")
		}
		_, err = p.db.Exec(
			`INSERT INTO jobs (id, company, status, started_at, data) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET company = ?, status = ?, data = ?`,
			job.JobID, job.CompanyName, string(job.Status), job.StartedAt, string(raw),
			job.CompanyName, string(job.Status), string(raw),
		)
		if err != nil {
			return eris.Wrapf(err, "progress: upsert job %s", job.JobID)
		}
	}
	return p.writeSnapshot(all)
}

func (p *persister) deleteJob(id string) {
	if p.db == nil {
		return
	}
	_, _ = p.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
}

// writeSnapshot rewrites the snapshot file via temp-file, fsync, and
// atomic rename so tailing processes never observe a torn write.
func (p *persister) writeSnapshot(all []*model.JobProgress) error {
	if p.snapshotPath == "" {
		return nil
	}

	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return eris.Wrap(err, "progress: marshal snapshot")
	}

	dir := filepath.Dir(p.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".progress-*.json")
	if err != nil {
		return eris.Wrap(err, "progress: create snapshot temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "progress: write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "progress: fsync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "progress: close snapshot temp file")
	}
	return eris.Wrap(os.Rename(tmpName, p.snapshotPath), "progress: replace snapshot")
}

// appendTail writes one human-readable line to the tail log. Failures are
// intentionally swallowed; the tail log is best-effort.
func (p *persister) appendTail(jobID, message string) {
	if p.tail == nil {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), jobID, message)
	_, _ = p.tail.WriteString(line)
}
