package stubapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"conduit-client/internal/domain"
)

// ErrUserNotFound is returned by lookups that match no row.
var ErrUserNotFound = errors.New("user not found")

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	bio TEXT,
	image TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const createFollowsTable = `
CREATE TABLE IF NOT EXISTS follows (
	follower_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	author TEXT NOT NULL,
	PRIMARY KEY (follower_id, author)
);
`

// account is a user row including its password hash.
type account struct {
	domain.User
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type userRepository struct {
	db *sql.DB
}

func newUserRepository(db *sql.DB) *userRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createFollowsTable); err != nil {
		return fmt.Errorf("create follows table: %w", err)
	}
	return nil
}

func (r *userRepository) Create(ctx context.Context, a *account) (int64, error) {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO users (email, username, password_hash, bio, image, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Email,
		a.Username,
		a.PasswordHash,
		a.Bio,
		a.Image,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return 0, uniqueViolation(err, "insert user")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user last insert id: %w", err)
	}
	a.ID = id
	return id, nil
}

func (r *userRepository) Update(ctx context.Context, a *account) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
UPDATE users
SET email = ?, username = ?, password_hash = ?, bio = ?, image = ?, updated_at = ?
WHERE id = ?`,
		a.Email,
		a.Username,
		a.PasswordHash,
		a.Bio,
		a.Image,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return uniqueViolation(err, "update user")
	}
	return nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*account, error) {
	row := r.db.QueryRowContext(ctx, selectUser+`WHERE email = ?`, email)
	return scanAccount(row)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*account, error) {
	row := r.db.QueryRowContext(ctx, selectUser+`WHERE username = ?`, username)
	return scanAccount(row)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*account, error) {
	row := r.db.QueryRowContext(ctx, selectUser+`WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *userRepository) Follow(ctx context.Context, followerID int64, author string) error {
	if _, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO follows (follower_id, author) VALUES (?, ?)`,
		followerID, author,
	); err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

// Following returns the set of authors followerID follows.
func (r *userRepository) Following(ctx context.Context, followerID int64) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT author FROM follows WHERE follower_id = ?`, followerID)
	if err != nil {
		return nil, fmt.Errorf("query follows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var author string
		if err := rows.Scan(&author); err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		out[author] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follows: %w", err)
	}
	return out, nil
}

const selectUser = `
SELECT id, email, username, password_hash, bio, image, created_at, updated_at
FROM users
`

func scanAccount(row interface {
	Scan(dest ...any) error
}) (*account, error) {
	var (
		a          account
		bio, image sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Username,
		&a.PasswordHash,
		&bio,
		&image,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if bio.Valid {
		a.Bio = &bio.String
	}
	if image.Valid {
		a.Image = &image.String
	}
	return &a, nil
}

// uniqueViolation maps sqlite's constraint message onto the field that clashed.
func uniqueViolation(err error, op string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique") && strings.Contains(msg, "users.email"):
		return ErrEmailTaken
	case strings.Contains(msg, "unique") && strings.Contains(msg, "users.username"):
		return ErrUsernameTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
