package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"log/slog"

	"bookclub-collab/internal/app"
	"bookclub-collab/internal/chat"
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper
func NewPostgres(ctx context.Context, cfg app.Config, log *slog.Logger) (*Postgres, error) {
	pc, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg url: %w", err)
	}
	pc.MaxConns = int32(cfg.PGMaxConn)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("store.connected", "max_conns", pc.MaxConns)
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Ping reports whether the database answers
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// scanner is satisfied by pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

// notFound maps pgx.ErrNoRows to chat.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.ErrNotFound
	}
	return err
}

// Club returns a book club with its rooms, oldest room first
func (p *Postgres) Club(ctx context.Context, clubID string) (chat.BookClub, error) {
	var c chat.BookClub
	err := p.pool.QueryRow(ctx, `SELECT id, name FROM book_clubs WHERE id = $1`, clubID).Scan(&c.ID, &c.Name)
	if err != nil {
		return chat.BookClub{}, notFound(err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, club_id, name, created_at
		FROM rooms
		WHERE club_id = $1
		ORDER BY created_at, id
	`, clubID)
	if err != nil {
		return chat.BookClub{}, err
	}
	defer rows.Close()

	c.Rooms = []chat.Room{}
	for rows.Next() {
		var r chat.Room
		if err := rows.Scan(&r.ID, &r.ClubID, &r.Name, &r.CreatedAt); err != nil {
			return chat.BookClub{}, err
		}
		c.Rooms = append(c.Rooms, r)
	}
	return c, rows.Err()
}

// Room fetches a room by ID
func (p *Postgres) Room(ctx context.Context, roomID string) (chat.Room, error) {
	var r chat.Room
	err := p.pool.QueryRow(ctx, `
		SELECT id, club_id, name, created_at FROM rooms WHERE id = $1
	`, roomID).Scan(&r.ID, &r.ClubID, &r.Name, &r.CreatedAt)
	if err != nil {
		return chat.Room{}, notFound(err)
	}
	return r, nil
}

// Membership returns userID's membership in clubID, whatever its status
func (p *Postgres) Membership(ctx context.Context, clubID, userID string) (chat.Membership, error) {
	var m chat.Membership
	err := p.pool.QueryRow(ctx, `
		SELECT club_id, user_id, role, status, joined_at
		FROM memberships
		WHERE club_id = $1 AND user_id = $2
	`, clubID, userID).Scan(&m.ClubID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt)
	if err != nil {
		return chat.Membership{}, notFound(err)
	}
	return m, nil
}

// Members lists the active members of a club by join date
func (p *Postgres) Members(ctx context.Context, clubID string) ([]chat.Membership, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT club_id, user_id, role, status, joined_at
		FROM memberships
		WHERE club_id = $1 AND status = 'ACTIVE'
		ORDER BY joined_at, user_id
	`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Membership
	for rows.Next() {
		var m chat.Membership
		if err := rows.Scan(&m.ClubID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Profiles batch-loads public user profiles; unknown IDs are skipped
func (p *Postgres) Profiles(ctx context.Context, ids []string) ([]chat.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, username, COALESCE(avatar_url, '')
		FROM users
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Profile
	for rows.Next() {
		var u chat.Profile
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
