package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

type userRepository struct {
	sc scope
}

// Create сохраняет пользователя; email уникален без учёта регистра.
func (r userRepository) Create(_ context.Context, user domain.User) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		if _, exists := s.users[user.ID]; exists {
			return nil, domain.Conflict("user %s already exists", user.ID)
		}
		for _, u := range s.users {
			if strings.EqualFold(u.Email, user.Email) {
				return nil, domain.ErrEmailTaken
			}
		}
		s.users[user.ID] = user
		return func() { delete(s.users, user.ID) }, nil
	})
}

func (r userRepository) Get(_ context.Context, id string) (domain.User, error) {
	var (
		user domain.User
		ok   bool
	)
	r.sc.read(func() {
		user, ok = r.sc.s.users[id]
	})
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r userRepository) GetByEmail(_ context.Context, email string) (domain.User, error) {
	var (
		user  domain.User
		found bool
	)
	r.sc.read(func() {
		for _, u := range r.sc.s.users {
			if strings.EqualFold(u.Email, email) {
				user, found = u, true
				return
			}
		}
	})
	if !found {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

var _ domain.UserRepository = userRepository{}
