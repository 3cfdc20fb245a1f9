package repositories

import (
	"context"

	"github.com/darienwest/gatehouse/internal/database"
	"github.com/darienwest/gatehouse/internal/models"
)

// UserRepository is the narrow read surface over the storefront's account
// store. Account CRUD belongs to the external API; this service only needs
// lookup by login identifier, lookup by id, and the step-up secret.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, phone, password_hash, name, status, is_active, totp_secret, created_at, updated_at`

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var phone, passwordHash, totpSecret *string

	err := scanner.Scan(
		&user.ID, &user.Email, &phone, &passwordHash, &user.Name,
		&user.Status, &user.IsActive, &totpSecret,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if phone != nil {
		user.Phone = *phone
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	if totpSecret != nil {
		user.TOTPSecret = *totpSecret
	}

	return &user, nil
}

// GetByIdentifier looks a user up by login handle (email or phone)
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR phone = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, identifier))
}

// GetByID looks a user up by internal id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

// SetTOTPSecret stores the encrypted step-up secret for a user
func (r *UserRepository) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	query := `UPDATE users SET totp_secret = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, userID, secret)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
