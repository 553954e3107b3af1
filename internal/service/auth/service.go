package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// ErrPasswordTooShort возвращается при регистрации со слабым паролем.
var ErrPasswordTooShort = errors.New("password must be at least 8 characters")

const minPasswordLength = 8

// Service реализует регистрацию и вход: bcrypt-хэши паролей и
// JWT HS256 с идентификатором пользователя в subject.
type Service struct {
	repo      domain.UserRepository
	jwtSecret []byte
	jwtTTL    time.Duration
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис аутентификации.
func NewService(repo domain.UserRepository, jwtSecret []byte, jwtTTL time.Duration, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "auth-service")
	}
	return &Service{
		repo:      repo,
		jwtSecret: jwtSecret,
		jwtTTL:    jwtTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register создаёт пользователя с уникальным логином.
func (s *Service) Register(ctx context.Context, login, email, password string) (domain.User, error) {
	if len(password) < minPasswordLength {
		return domain.User{}, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Login:        login,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return domain.User{}, err
	}

	s.logger.WithField("login", login).Info("user registered")
	return user, nil
}

// Login проверяет учётные данные и выдаёт подписанный токен.
// Неизвестный логин и неверный пароль неразличимы для вызывающего.
func (s *Service) Login(ctx context.Context, login, password string) (string, error) {
	user, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", domain.ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена и возвращает
// идентификатор пользователя из subject.
func (s *Service) ParseToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", domain.ErrInvalidCredentials
	}
	return claims.Subject, nil
}
