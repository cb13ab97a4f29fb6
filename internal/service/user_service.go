package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// UserService wraps account lookups and creation.
type UserService struct {
	users UserStore
	log   zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(users UserStore, log zerolog.Logger) *UserService {
	return &UserService{
		users: users,
		log:   log.With().Str("component", "user_service").Logger(),
	}
}

func (s *UserService) GetByID(ctx context.Context, id int) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.users.GetByUsername(ctx, username)
}

// Create stores a new account. The password must already be hashed.
func (s *UserService) Create(ctx context.Context, u *model.User) error {
	if err := s.users.Create(ctx, u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	s.log.Info().Str("username", u.Username).Str("role", string(u.Role)).Msg("User created")
	return nil
}
