package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/labroster/internal/dto"
	"github.com/noah-isme/labroster/internal/models"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

type mockClassRepo struct {
	classes []models.Class
	filter  models.ClassFilter
}

func (m *mockClassRepo) Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error {
	class.ID = int64(len(m.classes) + 1)
	m.classes = append(m.classes, *class)
	return nil
}

func (m *mockClassRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Class, error) {
	for _, c := range m.classes {
		if c.ID == id {
			copied := c
			return &copied, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
}

func (m *mockClassRepo) FindByLabel(ctx context.Context, exec sqlx.ExtContext, label string) ([]models.Class, error) {
	var out []models.Class
	for _, c := range m.classes {
		if c.ClassID != nil && *c.ClassID == label {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockClassRepo) List(ctx context.Context, exec sqlx.ExtContext, filter models.ClassFilter) ([]models.Class, int, error) {
	m.filter = filter
	var out []models.Class
	for _, c := range m.classes {
		if filter.Search == "" || (c.ClassID != nil && strings.Contains(*c.ClassID, filter.Search)) {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockClassRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	for i, c := range m.classes {
		if c.ID == id {
			m.classes = append(m.classes[:i], m.classes[i+1:]...)
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrNotFound, "class not found")
}

func TestClassServiceCreateAndFind(t *testing.T) {
	repo := &mockClassRepo{}
	svc := NewClassService(repo, nil, nil, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Create(ctx, dto.CreateClassRequest{ClassID: strPtr("1A")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, dto.CreateClassRequest{ClassID: strPtr("1A")})
	require.NoError(t, err, "labels are not unique")
	_, err = svc.Create(ctx, dto.CreateClassRequest{})
	require.NoError(t, err)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "1A", *got.ClassID)

	labelled, err := svc.FindByLabel(ctx, "1A")
	require.NoError(t, err)
	assert.Len(t, labelled, 2)

	_, err = svc.Create(ctx, dto.CreateClassRequest{ClassID: strPtr("")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestClassServiceListPagination(t *testing.T) {
	repo := &mockClassRepo{}
	svc := NewClassService(repo, nil, nil, zap.NewNop())
	ctx := context.Background()
	for _, label := range []string{"1A", "1B", "2A"} {
		_, err := svc.Create(ctx, dto.CreateClassRequest{ClassID: strPtr(label)})
		require.NoError(t, err)
	}

	classes, pagination, err := svc.List(ctx, models.ClassFilter{Search: "1", PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, classes, 2)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 2}, pagination)
	assert.Equal(t, "1", repo.filter.Search)
}

func TestClassServiceDeleteInvalidatesRosters(t *testing.T) {
	repo := &mockClassRepo{}
	store := newMemoryCache()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	svc := NewClassService(repo, cache, nil, zap.NewNop())
	ctx := context.Background()

	class, err := svc.Create(ctx, dto.CreateClassRequest{})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "roster:class_student:member:4", []int64{class.ID}, time.Minute))
	require.NoError(t, store.Set(ctx, "unrelated", 1, time.Minute))

	require.NoError(t, svc.Delete(ctx, class.ID))
	assert.False(t, store.has("roster:class_student:member:4"))
	assert.True(t, store.has("unrelated"))

	_, err = svc.Get(ctx, class.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
