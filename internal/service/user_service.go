package service

import (
	"context"
	"errors"
	"fmt"

	"user-management-api/backend/internal/models"
	"user-management-api/backend/internal/repository"
	"user-management-api/backend/pkg/logger"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// UserService handles user-related operations
type UserService struct {
	repo repository.UserRepository
	log  *logger.Logger
}

// NewUserService creates a new user service
func NewUserService(repo repository.UserRepository, log *logger.Logger) *UserService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &UserService{repo: repo, log: log.WithComponent("users")}
}

// GetAll returns every user ordered by ID
func (s *UserService) GetAll(ctx context.Context) ([]models.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// GetByID retrieves a user by ID
func (s *UserService) GetByID(ctx context.Context, id int) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return user, nil
}

// Create stores a new user; a supplied password is kept only as a bcrypt hash
func (s *UserService) Create(ctx context.Context, req *models.UserRequest) (*models.User, error) {
	user := &models.User{
		Name:  req.Name,
		Email: req.Email,
	}
	if err := s.setPassword(user, req.Password); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("User created", "user_id", user.ID)
	return user, nil
}

// Update copies name and email (and a new password, if any) onto user id
func (s *UserService) Update(ctx context.Context, id int, req *models.UserRequest) error {
	user := &models.User{
		ID:    id,
		Name:  req.Name,
		Email: req.Email,
	}
	if err := s.setPassword(user, req.Password); err != nil {
		return err
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return mapRepoError(err)
	}
	s.log.Info("User updated", "user_id", id)
	return nil
}

// Delete removes user id
func (s *UserService) Delete(ctx context.Context, id int) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepoError(err)
	}
	s.log.Info("User deleted", "user_id", id)
	return nil
}

func (s *UserService) setPassword(user *models.User, password string) error {
	if password == "" {
		return nil
	}
	hash, err := models.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	return nil
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
