// Package repo holds the plumbing every gorm-backed repository embeds.
package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by repositories. Methods taking a *gorm.DB join the caller's transaction when
// it is non-nil and use the pool otherwise.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB scopes the pool to ctx so cancellation reaches the driver.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return b.DB(ctx)
	}
	return tx
}

// Transaction commits when fn returns nil and rolls back otherwise.
func (b Base) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.DB(ctx).Transaction(fn)
}
