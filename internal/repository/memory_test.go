package repository

import (
	"context"
	"sync"
	"testing"

	"user-management-api/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)

	ken := &models.User{Name: "Ken", Email: "ken@example.com"}
	require.NoError(t, repo.Create(ctx, ken))
	assert.Equal(t, 1, ken.ID)
	assert.False(t, ken.CreatedAt.IsZero())

	ann := &models.User{Name: "Ann", Email: "ann@example.com"}
	require.NoError(t, repo.Create(ctx, ann))
	assert.Equal(t, 2, ann.ID)

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ken", got.Name)

	// returned values are copies
	got.Name = "changed"
	again, _ := repo.GetByID(ctx, 1)
	assert.Equal(t, "Ken", again.Name)

	require.NoError(t, repo.Update(ctx, &models.User{ID: 1, Name: "Kenneth", Email: "k@example.com"}))
	got, _ = repo.GetByID(ctx, 1)
	assert.Equal(t, "Kenneth", got.Name)
	assert.Equal(t, "k@example.com", got.Email)

	require.NoError(t, repo.Delete(ctx, 1))
	_, err = repo.GetByID(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	users, _ = repo.List(ctx)
	require.Len(t, users, 1)
	assert.Equal(t, 2, users[0].ID)

	// IDs are never reused
	next := &models.User{Name: "Bo", Email: "bo@example.com"}
	require.NoError(t, repo.Create(ctx, next))
	assert.Equal(t, 3, next.ID)
}

func TestMemoryUserRepository_Missing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	assert.ErrorIs(t, repo.Update(ctx, &models.User{ID: 9}), ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 9), ErrNotFound)
	_, err := repo.GetByID(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUserRepository_UpdateKeepsPasswordHash(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	u := &models.User{Name: "Ken", Email: "ken@example.com", PasswordHash: "hash"}
	require.NoError(t, repo.Create(ctx, u))
	require.NoError(t, repo.Update(ctx, &models.User{ID: u.ID, Name: "Ken", Email: "ken@example.com"}))

	got, _ := repo.GetByID(ctx, u.ID)
	assert.Equal(t, "hash", got.PasswordHash)
}

func TestMemoryUserRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Create(ctx, &models.User{Name: "n", Email: "e@example.com"})
		}()
	}
	wg.Wait()

	users, _ := repo.List(ctx)
	require.Len(t, users, 50)
	for i, u := range users {
		assert.Equal(t, i+1, u.ID)
	}
}
