package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	goGate "github.com/MrEthical07/goGate"
)

// SQLiteSchema creates the table the SQL directory reads. Roles are stored
// comma-separated.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS principals (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	roles         TEXT NOT NULL DEFAULT ''
);
`

// SQL resolves principals through database/sql. It is used with the
// modernc.org/sqlite driver registered as "sqlite".
type SQL struct {
	db *sql.DB
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies [SQLiteSchema].
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, oops.In("directory").Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, oops.In("directory").Code("SQLITE_SCHEMA_FAILED").With("path", path).Wrap(err)
	}
	return &SQL{db: db}, nil
}

func (d *SQL) Close() error {
	return d.db.Close()
}

func (d *SQL) LookupByUsername(ctx context.Context, username string) (*goGate.Principal, error) {
	username = strings.TrimSpace(username)
	row := d.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, roles FROM principals WHERE username = ? COLLATE NOCASE`,
		username,
	)

	var (
		p     goGate.Principal
		roles string
	)
	err := row.Scan(&p.ID, &p.Username, &p.CredentialHash, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(username)
	}
	if err != nil {
		return nil, oops.In("directory").
			Code("SQL_LOOKUP_FAILED").
			With("username", username).
			Wrap(err)
	}
	p.Roles = splitRoles(roles)
	return &p, nil
}

// Upsert inserts or replaces a principal. It exists for seeding; the
// engine itself never writes to the directory.
func (d *SQL) Upsert(ctx context.Context, p goGate.Principal) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Username) == "" {
		return oops.In("directory").Code("DIRECTORY_INVALID").
			Errorf("principal id and username are required")
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO principals (id, username, password_hash, roles)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password_hash = excluded.password_hash,
			roles = excluded.roles
	`, p.ID, p.Username, p.CredentialHash, strings.Join(p.Roles, ","))
	if err != nil {
		return oops.In("directory").
			Code("SQL_UPSERT_FAILED").
			With("username", p.Username).
			Wrap(err)
	}
	return nil
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
