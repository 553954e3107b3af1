package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// userRepositoryInMemory — простая in-memory реализация UserRepository.
type userRepositoryInMemory struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byLogin map[string]string
}

// NewUserRepository возвращает in-memory репозиторий пользователей.
func NewUserRepository() domain.UserRepository {
	return &userRepositoryInMemory{
		byID:    make(map[string]domain.User),
		byLogin: make(map[string]string),
	}
}

func (r *userRepositoryInMemory) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byLogin[user.Login]; exists {
		return domain.ErrLoginTaken
	}
	r.byID[user.ID] = user
	r.byLogin[user.Login] = user.ID
	return nil
}

func (r *userRepositoryInMemory) GetByLogin(_ context.Context, login string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byLogin[login]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *userRepositoryInMemory) GetByID(_ context.Context, id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
