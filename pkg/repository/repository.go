package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is a minimal generic store over one gorm model.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T) ([]*T, error)
	FindOne(ctx context.Context, query *T) (*T, error)
	Create(ctx context.Context, resource *T) error
	BatchCreate(ctx context.Context, resources []*T) error
	Update(ctx context.Context, resourceID any, resource any) error
	Delete(ctx context.Context, resourceID any) error
	Count(ctx context.Context, query *T) (int64, error)
}
