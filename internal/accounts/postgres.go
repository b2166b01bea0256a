package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLinker reads links from the user_links table. Rows are written by
// the separate account-linking flow; this service only reads them.
type PostgresLinker struct {
	pool *pgxpool.Pool
}

func NewPostgresLinker(ctx context.Context, databaseURL string) (*PostgresLinker, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initLinkSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresLinker{pool: pool}, nil
}

func initLinkSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS user_links (
			user_id TEXT PRIMARY KEY,
			ccid TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			linked_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	)
	if err != nil {
		return fmt.Errorf("init user_links schema: %w", err)
	}
	return nil
}

func (l *PostgresLinker) LinkedAccount(ctx context.Context, userID string) (string, error) {
	var ccid string
	err := l.pool.QueryRow(ctx,
		`SELECT ccid FROM user_links WHERE user_id=$1`, strings.TrimSpace(userID),
	).Scan(&ccid)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotLinked
		}
		return "", fmt.Errorf("lookup link for %s: %w", userID, err)
	}
	if strings.TrimSpace(ccid) == "" {
		return "", ErrNotLinked
	}
	return ccid, nil
}

func (l *PostgresLinker) Close() error {
	l.pool.Close()
	return nil
}
