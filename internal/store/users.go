package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mossy-p/call-signaling/internal/models"
)

const userColumns = `id, email, display_name, avatar_url, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, email, displayName string, passwordHash []byte) (*models.User, error) {
	email = normalizeEmail(email)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	u := &models.User{
		ID:          uuid.New().String(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, avatar_url, created_at) VALUES ($1, $2, $3, $4, '', $5)`,
		u.ID, u.Email, u.DisplayName, passwordHash, u.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// UserByEmail returns the user and their password hash.
func (p *Postgres) UserByEmail(ctx context.Context, email string) (*models.User, []byte, error) {
	var (
		u    models.User
		hash []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, normalizeEmail(email)).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}
	return &u, hash, nil
}

func (p *Postgres) UserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// SearchUsers matches query against email and display name, excluding the
// caller.
func (p *Postgres) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := p.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE (email ILIKE $1 OR display_name ILIKE $1) AND id <> $2
		 ORDER BY display_name LIMIT $3`,
		pattern, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// AddContact links contactID to userID. Both users must exist.
func (p *Postgres) AddContact(ctx context.Context, userID, contactID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO contacts (user_id, contact_id, created_at) VALUES ($1, $2, $3)`,
		userID, contactID, time.Now().UTC())
	switch pgErrorCode(err) {
	case "":
		return err
	case uniqueViolation:
		return ErrContactExists
	case foreignKeyViolation:
		return ErrUserNotFound
	default:
		return err
	}
}

func (p *Postgres) Contacts(ctx context.Context, userID string) ([]models.User, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT u.id, u.email, u.display_name, u.avatar_url, u.created_at
		 FROM contacts c JOIN users u ON u.id = c.contact_id
		 WHERE c.user_id = $1
		 ORDER BY u.display_name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
