package repository

import (
	"context"
	"errors"

	"user-management-api/backend/internal/models"
)

// ErrNotFound is returned when no user has the requested ID
var ErrNotFound = errors.New("user not found")

// UserRepository stores users
type UserRepository interface {
	List(ctx context.Context) ([]models.User, error)
	GetByID(ctx context.Context, id int) (*models.User, error)
	// Create assigns the next ID and timestamps to user
	Create(ctx context.Context, user *models.User) error
	// Update copies name, email and a non-empty password hash onto the stored user
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int) error
	Ping(ctx context.Context) error
}
