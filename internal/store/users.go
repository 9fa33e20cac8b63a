package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phillip-england/onboarding/internal/onboarding"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

type User struct {
	ID               string                   `json:"id"`
	Email            string                   `json:"email"`
	FullName         string                   `json:"fullName"`
	PhoneNumber      string                   `json:"phoneNumber"`
	DepartmentID     string                   `json:"departmentId"`
	DepartmentName   string                   `json:"departmentName"`
	OnboardingStatus onboarding.ProfileStatus `json:"onboardingStatus"`
	RejectionReason  string                   `json:"rejectionReason,omitempty"`
	DepartmentData   map[string]any           `json:"departmentSpecificData,omitempty"`
	IsAdmin          bool                     `json:"isAdmin"`
	CreatedAt        time.Time                `json:"createdAt"`
}

type NewUser struct {
	Email        string
	PasswordHash string
	FullName     string
	PhoneNumber  string
	DepartmentID string
	IsAdmin      bool
}

type Session struct {
	ID        string
	UserID    string
	CSRFToken string
	ExpiresAt time.Time
}

const userColumns = `
	p.id, p.email, p.full_name, p.phone_number, COALESCE(p.department_id, ''), COALESCE(d.name, ''),
	p.onboarding_status, p.rejection_reason, p.department_specific_data, p.created_at,
	EXISTS(SELECT 1 FROM user_roles r WHERE r.user_id = p.id AND r.role = 'admin')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*User, error) {
	var (
		u         User
		status    string
		data      string
		createdAt int64
		isAdmin   bool
	)
	dest := []any{
		&u.ID, &u.Email, &u.FullName, &u.PhoneNumber, &u.DepartmentID, &u.DepartmentName,
		&status, &u.RejectionReason, &data, &createdAt, &isAdmin,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	u.OnboardingStatus = onboarding.ProfileStatus(status)
	u.CreatedAt = fromUnix(createdAt)
	u.IsAdmin = isAdmin
	if err := unmarshalJSON(data, &u.DepartmentData); err != nil {
		return nil, fmt.Errorf("decode department data: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	if email == "" || nu.PasswordHash == "" {
		return nil, errors.New("email and password hash are required")
	}
	id := newID()
	now := nowUnix()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (id, email, password_hash, full_name, phone_number, department_id, onboarding_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, id, email, nu.PasswordHash, strings.TrimSpace(nu.FullName), strings.TrimSpace(nu.PhoneNumber),
			nullString(nu.DepartmentID), string(onboarding.ProfilePending), now, now); err != nil {
			return err
		}
		role := RoleEmployee
		if nu.IsAdmin {
			role = RoleAdmin
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO user_roles (user_id, role) VALUES (?, ?);`, id, role)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// EnsureAdminUser creates the bootstrap administrator, or resets its
// password hash and role when the email already exists.
func (s *Store) EnsureAdminUser(ctx context.Context, email, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, _, err := s.LookupUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, err = s.CreateUser(ctx, NewUser{Email: email, PasswordHash: passwordHash, FullName: "Administrator", IsAdmin: true})
		return err
	}
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET password_hash = ?, updated_at = ? WHERE id = ?;`, passwordHash, nowUnix(), user.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?);`, user.ID, RoleAdmin)
		return err
	})
}

// LookupUserByEmail returns the user and their password hash.
func (s *Store) LookupUserByEmail(ctx context.Context, email string) (*User, string, error) {
	var hash string
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, p.password_hash
		FROM profiles p
		LEFT JOIN departments d ON d.id = p.department_id
		WHERE p.email = ?
		LIMIT 1;
	`, strings.ToLower(strings.TrimSpace(email)))
	user, err := scanUser(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return user, hash, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM profiles p
		LEFT JOIN departments d ON d.id = p.department_id
		WHERE p.id = ?
		LIMIT 1;
	`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM profiles p
		LEFT JOIN departments d ON d.id = p.department_id
		ORDER BY p.full_name COLLATE NOCASE, p.email;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserDepartment(ctx context.Context, userID, departmentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET department_id = ?, updated_at = ? WHERE id = ?;`,
		nullString(departmentID), nowUnix(), userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) CreateSession(ctx context.Context, id, userID, csrfToken string, expiresAt time.Time) error {
	now := nowUnix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, csrf_token, expires_at, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, id, userID, csrfToken, expiresAt.UTC().Unix(), now, now)
	return err
}

// LookupSession returns the session and its user. Expired sessions are
// deleted and reported as ErrNotFound.
func (s *Store) LookupSession(ctx context.Context, id string) (*Session, *User, error) {
	var (
		sess      Session
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, csrf_token, expires_at FROM sessions WHERE id = ? LIMIT 1;
	`, id).Scan(&sess.ID, &sess.UserID, &sess.CSRFToken, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	sess.ExpiresAt = fromUnix(expiresAt)
	if time.Now().UTC().After(sess.ExpiresAt) {
		_ = s.DeleteSession(ctx, id)
		return nil, nil, ErrNotFound
	}

	user, err := s.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = ? WHERE id = ?;`, nowUnix(), id)
	return &sess, user, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, id)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?;`, now.UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
