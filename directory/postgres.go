package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	goGate "github.com/MrEthical07/goGate"
)

// Querier is the subset of *pgxpool.Pool the Postgres directory uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresSchema creates the table the Postgres directory reads.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS principals (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	roles         TEXT[] NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS principals_username_lower ON principals (LOWER(username));
`

const postgresLookup = `
		SELECT id, username, password_hash, roles
		FROM principals
		WHERE LOWER(username) = LOWER($1)
	`

// Postgres resolves principals from a PostgreSQL table. Usernames are
// matched case-insensitively.
type Postgres struct {
	db Querier
}

func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn and waits for one successful ping.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("directory").Code("POSTGRES_CONNECT_FAILED").Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, oops.In("directory").Code("POSTGRES_CONNECT_FAILED").Wrap(err)
	}
	return pool, nil
}

func (d *Postgres) LookupByUsername(ctx context.Context, username string) (*goGate.Principal, error) {
	username = strings.TrimSpace(username)
	row := d.db.QueryRow(ctx, postgresLookup, username)

	var p goGate.Principal
	err := row.Scan(&p.ID, &p.Username, &p.CredentialHash, &p.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(username)
	}
	if err != nil {
		return nil, oops.In("directory").
			Code("POSTGRES_LOOKUP_FAILED").
			With("username", username).
			Wrap(err)
	}
	return &p, nil
}

// Ping checks connectivity.
func (d *Postgres) Ping(ctx context.Context) error {
	if err := d.db.Ping(ctx); err != nil {
		return oops.In("directory").Code("POSTGRES_PING_FAILED").Wrap(err)
	}
	return nil
}
