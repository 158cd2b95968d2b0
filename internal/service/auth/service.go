// Package auth отвечает за регистрацию, вход, выпуск и проверку JWT.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

const (
	// DefaultTokenTTL: срок жизни токена по умолчанию.
	DefaultTokenTTL = 24 * time.Hour

	// DemoPassword: пароль демо-пользователей.
	DemoPassword = "admin123"

	passwordMinLen = 6
	nameMinLen     = 2
	nameMaxLen     = 100
)

// Ошибки проверки токена.
var (
	ErrTokenInvalid = domain.Unauthorized("invalid token")
	ErrTokenExpired = domain.Unauthorized("token expired")
)

// Claims: полезная нагрузка токена.
type Claims struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session: пользователь вместе с выданным токеном.
type Session struct {
	User  domain.User
	Token string
}

// Service выполняет аутентификацию поверх репозитория пользователей.
type Service struct {
	users  domain.UserRepository
	secret []byte
	ttl    time.Duration
	cost   int
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithTokenTTL задаёт срок жизни токена.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBcryptCost меняет стоимость bcrypt (тесты используют bcrypt.MinCost).
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис; пустой секрет недопустим.
func NewService(users domain.UserRepository, secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	s := &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		cost:   bcrypt.DefaultCost,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "auth")
	}
	return s, nil
}

// Register создаёт клиента. Роль всегда CLIENT, независимо от запроса.
func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if err := validateRegistration(name, email, password); err != nil {
		return Session{}, err
	}

	user, err := s.createUser(ctx, name, email, password, domain.RoleClient)
	if err != nil {
		return Session{}, err
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return Session{}, err
	}

	s.logger.WithFields(log.Fields{"user_id": user.ID, "email": user.Email}).Info("user registered")
	return Session{User: user, Token: token}, nil
}

// Login проверяет пару email/пароль. Неизвестный email и неверный пароль неразличимы.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, domain.ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("load user by email: %w", err)
	}
	if !user.Active {
		return Session{}, domain.ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WithField("user_id", user.ID).Warn("failed login attempt")
		return Session{}, domain.ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return Session{}, err
	}

	s.logger.WithField("user_id", user.ID).Info("user logged in")
	return Session{User: user, Token: token}, nil
}

// IssueToken подписывает HS256-токен для пользователя.
func (s *Service) IssueToken(user domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate проверяет токен и возвращает вызывающего.
func (s *Service) Authenticate(token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, domain.Unauthorized("access token is required")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, ErrTokenExpired
		}
		return domain.Principal{}, ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return domain.Principal{}, ErrTokenInvalid
	}

	return domain.Principal{UserID: claims.Subject, Role: claims.Role}, nil
}

// Profile возвращает пользователя по id.
func (s *Service) Profile(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	return user, nil
}

// SeedDemoUsers создаёт администратора и клиента для локального стенда.
// Уже существующие email пропускаются.
func (s *Service) SeedDemoUsers(ctx context.Context) error {
	demo := []struct {
		name  string
		email string
		role  domain.Role
	}{
		{"Administrator", "admin@inventory.com", domain.RoleAdmin},
		{"Demo Client", "cliente@inventory.com", domain.RoleClient},
	}

	for _, d := range demo {
		_, err := s.createUser(ctx, d.name, d.email, DemoPassword, d.role)
		switch {
		case err == nil:
			s.logger.WithFields(log.Fields{"email": d.email, "role": d.role}).Info("demo user created")
		case errors.Is(err, domain.ErrEmailTaken):
			s.logger.WithField("email", d.email).Debug("demo user already exists")
		default:
			return fmt.Errorf("seed %s: %w", d.email, err)
		}
	}
	return nil
}

func (s *Service) createUser(ctx context.Context, name, email, password string, role domain.Role) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

func validateRegistration(name, email, password string) error {
	if n := utf8.RuneCountInString(name); n < nameMinLen || n > nameMaxLen {
		return domain.BadRequest("name must be between %d and %d characters", nameMinLen, nameMaxLen)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.BadRequest("email is invalid")
	}
	if utf8.RuneCountInString(password) < passwordMinLen {
		return domain.BadRequest("password must be at least %d characters", passwordMinLen)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
