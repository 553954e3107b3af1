package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

func (r *userRepository) Create(ctx context.Context, user domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, login, email, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.ID, user.Login, nullString(user.Email), user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLoginTaken
		}
		return wrapStorageErr("insert user", err)
	}
	return nil
}

func (r *userRepository) GetByLogin(ctx context.Context, login string) (domain.User, error) {
	return r.getBy(ctx, `login = $1`, login)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	return r.getBy(ctx, `user_id = $1`, id)
}

func (r *userRepository) getBy(ctx context.Context, cond string, arg any) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var user domain.User
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, login, email, password_hash, created_at
		FROM users
		WHERE `+cond,
		arg,
	).Scan(&user.ID, &user.Login, &email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, wrapStorageErr("select user", err)
	}
	user.Email = email.String
	return user, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
