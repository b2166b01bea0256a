package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ultrahub-team/ultrahub/internal/raid"
)

// PostgresStore keeps live snapshots in the raids table and terminal records
// in raid_history. Collection-valued fields travel as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initRaidSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initRaidSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raids (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL DEFAULT '',
			boss TEXT NOT NULL,
			comp TEXT NOT NULL,
			creator TEXT NOT NULL,
			status TEXT NOT NULL,
			party_size INTEGER NOT NULL,
			members JSONB NOT NULL DEFAULT '{}',
			join_order JSONB NOT NULL DEFAULT '[]',
			available_roles JSONB NOT NULL DEFAULT 'null',
			strategy TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			voice_channel_id TEXT NOT NULL DEFAULT '',
			instance_number INTEGER NOT NULL DEFAULT 0,
			confirmed JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			confirm_deadline TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_raids_creator_boss ON raids (creator, boss);`,
		`CREATE TABLE IF NOT EXISTS raid_history (
			id TEXT PRIMARY KEY,
			raid_id TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_raid_history_raid_ended ON raid_history (raid_id, ended_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init raid schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, sess raid.Session) error {
	members, err := json.Marshal(sess.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	joinOrder, err := json.Marshal(sess.JoinOrder)
	if err != nil {
		return fmt.Errorf("encode join order: %w", err)
	}
	availableRoles, err := json.Marshal(sess.AvailableRoles)
	if err != nil {
		return fmt.Errorf("encode available roles: %w", err)
	}
	confirmed, err := json.Marshal(sess.Confirmed)
	if err != nil {
		return fmt.Errorf("encode confirmed: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO raids (
			id, channel_id, boss, comp, creator, status, party_size, members, join_order,
			available_roles, strategy, thread_id, message_id, voice_channel_id,
			instance_number, confirmed, created_at, started_at, confirm_deadline
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
		)
		ON CONFLICT (id) DO UPDATE SET
			channel_id=EXCLUDED.channel_id,
			boss=EXCLUDED.boss,
			comp=EXCLUDED.comp,
			creator=EXCLUDED.creator,
			status=EXCLUDED.status,
			party_size=EXCLUDED.party_size,
			members=EXCLUDED.members,
			join_order=EXCLUDED.join_order,
			available_roles=EXCLUDED.available_roles,
			strategy=EXCLUDED.strategy,
			thread_id=EXCLUDED.thread_id,
			message_id=EXCLUDED.message_id,
			voice_channel_id=EXCLUDED.voice_channel_id,
			instance_number=EXCLUDED.instance_number,
			confirmed=EXCLUDED.confirmed,
			created_at=EXCLUDED.created_at,
			started_at=EXCLUDED.started_at,
			confirm_deadline=EXCLUDED.confirm_deadline`,
		sess.ID,
		sess.ChannelID,
		sess.Boss,
		sess.Comp,
		sess.Creator,
		string(sess.Status),
		sess.PartySize,
		string(members),
		string(joinOrder),
		string(availableRoles),
		sess.Strategy,
		sess.ThreadID,
		sess.MessageID,
		sess.VoiceChannelID,
		sess.InstanceNumber,
		string(confirmed),
		sess.CreatedAt,
		sess.StartedAt,
		sess.ConfirmDeadline,
	)
	if err != nil {
		return fmt.Errorf("upsert raid %s: %w", sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, raidID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM raids WHERE id=$1`, raidID); err != nil {
		return fmt.Errorf("delete raid %s: %w", raidID, err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]raid.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, boss, comp, creator, status, party_size, members, join_order,
		        available_roles, strategy, thread_id, message_id, voice_channel_id,
		        instance_number, confirmed, created_at, started_at, confirm_deadline
		   FROM raids ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list raids: %w", err)
	}
	defer rows.Close()

	out := make([]raid.Session, 0, 8)
	for rows.Next() {
		sess, err := scanRaidRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raid row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raid rows: %w", err)
	}
	return out, nil
}

func scanRaidRow(rows pgx.Rows) (raid.Session, error) {
	var (
		sess             raid.Session
		status           string
		members          []byte
		joinOrder        []byte
		availableRoles   []byte
		confirmed        []byte
		startedNullable  *time.Time
		deadlineNullable *time.Time
	)
	if err := rows.Scan(
		&sess.ID,
		&sess.ChannelID,
		&sess.Boss,
		&sess.Comp,
		&sess.Creator,
		&status,
		&sess.PartySize,
		&members,
		&joinOrder,
		&availableRoles,
		&sess.Strategy,
		&sess.ThreadID,
		&sess.MessageID,
		&sess.VoiceChannelID,
		&sess.InstanceNumber,
		&confirmed,
		&sess.CreatedAt,
		&startedNullable,
		&deadlineNullable,
	); err != nil {
		return raid.Session{}, err
	}
	sess.Status = raid.Status(status)
	sess.StartedAt = startedNullable
	sess.ConfirmDeadline = deadlineNullable
	if err := json.Unmarshal(members, &sess.Members); err != nil {
		return raid.Session{}, fmt.Errorf("decode members for %s: %w", sess.ID, err)
	}
	if err := json.Unmarshal(joinOrder, &sess.JoinOrder); err != nil {
		return raid.Session{}, fmt.Errorf("decode join order for %s: %w", sess.ID, err)
	}
	if err := json.Unmarshal(availableRoles, &sess.AvailableRoles); err != nil {
		return raid.Session{}, fmt.Errorf("decode available roles for %s: %w", sess.ID, err)
	}
	if err := json.Unmarshal(confirmed, &sess.Confirmed); err != nil {
		return raid.Session{}, fmt.Errorf("decode confirmed for %s: %w", sess.ID, err)
	}
	return sess, nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, rec raid.HistoryRecord) error {
	snapshot, err := json.Marshal(rec.Session)
	if err != nil {
		return fmt.Errorf("encode history snapshot for %s: %w", rec.RaidID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO raid_history (id, raid_id, status, snapshot, ended_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID,
		rec.RaidID,
		string(rec.Status),
		string(snapshot),
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", rec.RaidID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
