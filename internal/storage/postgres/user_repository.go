package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

const userColumns = `id, name, email, password_hash, role, active, created_at, updated_at`

type userRepository struct {
	q querier
}

func (r *userRepository) Create(ctx context.Context, user domain.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role),
		user.Active, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

// GetByEmail ищет пользователя без учёта регистра email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getBy(ctx, "lower(email) = lower($1)", email)
}

func (r *userRepository) getBy(ctx context.Context, cond string, value string) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		user domain.User
		role string
	)
	err := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, value).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role,
		&user.Active, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	user.Role = domain.Role(role)
	return user, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
