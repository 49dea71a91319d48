package relay

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-i2p/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_relays (
	id         BLOB PRIMARY KEY,
	next_hop   BLOB NOT NULL,
	payload    BLOB NOT NULL,
	send_at    INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_relays_send_at ON pending_relays(send_at);
CREATE INDEX IF NOT EXISTS idx_pending_relays_expires_at ON pending_relays(expires_at);
`

// SQLiteStore keeps pending relays in a SQLite database. Times are stored
// as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to open relay database %s", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, oops.Wrapf(err, "failed to enable WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, oops.Wrapf(err, "failed to create relay schema")
	}
	log.WithFields(logger.Fields{
		"at":   "OpenSQLiteStore",
		"path": path,
	}).Debug("Opened relay store")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, r PendingRelay) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pending_relays (id, next_hop, payload, send_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID.Bytes(), r.NextHop[:], r.Payload, r.SendAt.UnixMilli(), r.ExpiresAt.UnixMilli())
	if err != nil {
		return oops.Wrapf(err, "failed to store relay %s", r.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id uniqueid.UniqueId) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_relays WHERE id = ?`, id.Bytes()); err != nil {
		return oops.Wrapf(err, "failed to delete relay %s", id)
	}
	return nil
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]PendingRelay, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, next_hop, payload, send_at, expires_at FROM pending_relays ORDER BY send_at ASC`)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to query pending relays")
	}
	defer rows.Close()

	var out []PendingRelay
	for rows.Next() {
		var (
			id, next, payload []byte
			sendAt, expiresAt int64
		)
		if err := rows.Scan(&id, &next, &payload, &sendAt, &expiresAt); err != nil {
			return nil, oops.Wrapf(err, "failed to scan pending relay")
		}
		r := PendingRelay{
			Payload:   payload,
			SendAt:    time.UnixMilli(sendAt),
			ExpiresAt: time.UnixMilli(expiresAt),
		}
		if r.ID, err = uniqueid.FromBytes(id); err != nil {
			log.WithFields(logger.Fields{
				"at":     "SQLiteStore.Pending",
				"reason": err.Error(),
			}).Warn("Skipping corrupt relay row")
			continue
		}
		copy(r.NextHop[:], next)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Wrapf(err, "failed to read pending relays")
	}
	return out, nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_relays WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, oops.Wrapf(err, "failed to delete expired relays")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Wrapf(err, "failed to count expired relays")
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
