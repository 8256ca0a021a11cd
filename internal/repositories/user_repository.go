package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, external_id, username, first_name, last_name, avatar, online, last_seen, session_id`

// UpsertUserParams carries the identity and display claims applied on a
// successful authentication.
type UpsertUserParams struct {
	ExternalID string
	Username   string
	FirstName  string
	LastName   string
	Avatar     string
	SessionID  string
}

// ParticipantSeed is the display snapshot used to create a user who has never
// connected to the relay; it never overwrites an existing record.
type ParticipantSeed struct {
	ExternalID string
	Username   string
	FirstName  string
	LastName   string
	Avatar     string
}

// UserRepository is the presence directory: online/offline state, last-seen
// time and the current session handle, keyed by external identifier.
type UserRepository interface {
	UpsertOnAuth(ctx context.Context, params UpsertUserParams) (models.User, error)
	EnsureParticipant(ctx context.Context, seed ParticipantSeed) (models.User, error)
	SetOffline(ctx context.Context, userID int) (models.User, error)
	MarkOfflineByExternalID(ctx context.Context, externalID string) error
	GetByID(ctx context.Context, userID int) (models.User, error)
	GetByExternalIDs(ctx context.Context, externalIDs []string) ([]models.User, error)
	ListStatuses(ctx context.Context) ([]models.UserStatus, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// UpsertOnAuth creates or refreshes the directory entry for an authenticated
// user: online, current session handle, fresh display claims.
func (r *UserRepo) UpsertOnAuth(ctx context.Context, p UpsertUserParams) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `INSERT INTO users (external_id, username, first_name, last_name, avatar, online, last_seen, session_id)
        VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), $6)
        ON CONFLICT (external_id) DO UPDATE SET
            username = EXCLUDED.username,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            avatar = EXCLUDED.avatar,
            online = TRUE,
            last_seen = NOW(),
            session_id = EXCLUDED.session_id
        RETURNING `+userColumns,
		p.ExternalID, p.Username, p.FirstName, p.LastName, p.Avatar, p.SessionID)
	return user, err
}

// EnsureParticipant returns the user for an external id, creating an offline
// record from the seed when none exists. The no-op update on conflict lets
// RETURNING yield the existing row without touching its presence state.
func (r *UserRepo) EnsureParticipant(ctx context.Context, s ParticipantSeed) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `INSERT INTO users (external_id, username, first_name, last_name, avatar, online)
        VALUES ($1, $2, $3, $4, $5, FALSE)
        ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
        RETURNING `+userColumns,
		s.ExternalID, s.Username, s.FirstName, s.LastName, s.Avatar)
	return user, err
}

// SetOffline clears the session handle and marks the user offline.
func (r *UserRepo) SetOffline(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET online = FALSE, last_seen = NOW(), session_id = NULL
        WHERE id = $1 RETURNING `+userColumns, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// MarkOfflineByExternalID is the presence downgrade applied when a client
// presents an expired credential for that identity.
func (r *UserRepo) MarkOfflineByExternalID(ctx context.Context, externalID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET online = FALSE, last_seen = NOW() WHERE external_id = $1`, externalID)
	return err
}

// GetByID fetches a user by relay id.
func (r *UserRepo) GetByID(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetByExternalIDs fetches the users known for the given external ids;
// unknown ids are silently skipped.
func (r *UserRepo) GetByExternalIDs(ctx context.Context, externalIDs []string) ([]models.User, error) {
	if len(externalIDs) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE external_id IN (?)`, externalIDs)
	if err != nil {
		return nil, err
	}
	var users []models.User
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}

// ListStatuses returns the presence snapshot for every known user.
func (r *UserRepo) ListStatuses(ctx context.Context) ([]models.UserStatus, error) {
	var statuses []models.UserStatus
	err := r.db.SelectContext(ctx, &statuses, `SELECT id, external_id, online, last_seen FROM users ORDER BY id`)
	return statuses, err
}
