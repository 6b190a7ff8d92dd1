package history

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Reader is the read-only, allocation-light side of the history store,
// used by cmd/ninjahist to page through thousands of rows without paying
// gorm's reflection overhead on every row. Grounded on the query patterns
// in 256lights-zb's realize.go (sqlitex.Execute with a per-row callback
// over a read-only zombiezen.com/go/sqlite connection).
type Reader struct {
	conn *sqlite.Conn
}

func OpenReader(path string) (*Reader, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open history reader: %w", err)
	}
	return &Reader{conn: conn}, nil
}

func (r *Reader) Close() error { return r.conn.Close() }

// Entry is one row surfaced to a ninjahist caller.
type Entry struct {
	Output      string
	CommandHash string
	ContentHash string
	StartTime   int64
	EndTime     int64
	Mtime       int64
	RecordedAt  int64
}

// IterateByOutput streams every live history row for output, most recent
// first, invoking fn for each until it returns false or rows run out.
func (r *Reader) IterateByOutput(output string, fn func(Entry) bool) error {
	stopped := false
	err := sqlitex.Execute(r.conn,
		`SELECT output, command_hash, content_hash, start_time, end_time, mtime, recorded_at
		   FROM build_history
		  WHERE output = ? AND deleted_at = 0
		  ORDER BY recorded_at DESC`,
		&sqlitex.ExecOptions{
			Args: []interface{}{output},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stopped {
					return nil
				}
				e := Entry{
					Output:      stmt.ColumnText(0),
					CommandHash: stmt.ColumnText(1),
					ContentHash: stmt.ColumnText(2),
					StartTime:   stmt.ColumnInt64(3),
					EndTime:     stmt.ColumnInt64(4),
					Mtime:       stmt.ColumnInt64(5),
					RecordedAt:  stmt.ColumnInt64(6),
				}
				if !fn(e) {
					stopped = true
				}
				return nil
			},
		})
	return err
}

// RecentOutputs returns the most recently recorded distinct output paths,
// newest first, bounded by limit. Used by cmd/ninjastatusd to refresh its
// sharded recent-builds cache at startup and then every quarter of the
// compaction interval.
func (r *Reader) RecentOutputs(limit int) ([]string, error) {
	var outputs []string
	err := sqlitex.Execute(r.conn,
		`SELECT output FROM build_history WHERE deleted_at = 0
		  GROUP BY output ORDER BY MAX(recorded_at) DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []interface{}{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				outputs = append(outputs, stmt.ColumnText(0))
				return nil
			},
		})
	return outputs, err
}

// CountLive returns the number of non-deleted rows in the store, used by
// cmd/ninjastatusd to report history-store size in its status payload.
func (r *Reader) CountLive() (int64, error) {
	var count int64
	err := sqlitex.Execute(r.conn,
		`SELECT COUNT(*) FROM build_history WHERE deleted_at = 0`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	return count, err
}
