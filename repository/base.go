// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// saveBatchSize bounds a single INSERT issued by SaveBatch
const saveBatchSize = 100

// BaseRepository provides common repository functionality with transaction support
type BaseRepository[T any, F any] struct {
	DB *gorm.DB
}

// NewBaseRepository creates a new base repository instance
func NewBaseRepository[T any, F any](db *gorm.DB) *BaseRepository[T, F] {
	return &BaseRepository[T, F]{
		DB: db,
	}
}

// txFromContext returns the transaction stored by WithTransaction, if any
func txFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(TxContextKey).(*gorm.DB)
	return tx, ok && tx != nil
}

// getDB returns the transaction carried by ctx or the shared handle
func (r *BaseRepository[T, F]) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return r.DB.WithContext(ctx)
}

// write runs fn in the caller's transaction, or in a new one it commits itself
func (r *BaseRepository[T, F]) write(ctx context.Context, fn func(db *gorm.DB) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(tx)
	}
	return r.DB.WithContext(ctx).Transaction(fn)
}

// findOne runs query into a fresh T. A missing row is (nil, nil).
func findOne[T any](query *gorm.DB) (*T, error) {
	var row T
	if err := query.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ByID retrieves an entity by its numeric primary key
func (r *BaseRepository[T, F]) ByID(ctx context.Context, id uint) (*T, error) {
	row, err := findOne[T](r.getDB(ctx).Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to find entity by ID %d: %w", id, err)
	}
	return row, nil
}

// Save inserts a new entity
func (r *BaseRepository[T, F]) Save(ctx context.Context, entity *T) error {
	err := r.write(ctx, func(db *gorm.DB) error {
		return db.Create(entity).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

// SaveBatch inserts multiple entities in a single transaction
func (r *BaseRepository[T, F]) SaveBatch(ctx context.Context, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}
	err := r.write(ctx, func(db *gorm.DB) error {
		return db.CreateInBatches(entities, saveBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save %d entities: %w", len(entities), err)
	}
	return nil
}

// paginate applies ordering and paging the same way for every repository
func paginate(query *gorm.DB, orderBy string, limit, offset int) *gorm.DB {
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

// WithTransaction executes fn with a transaction stored in its context. A panic in fn rolls back.
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(context.Context) error) (err error) {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", r)
		}
	}()

	if err := fn(context.WithValue(ctx, TxContextKey, tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type gormTxRunner struct {
	db *gorm.DB
}

// NewTxRunner returns a TxRunner backed by WithTransaction
func NewTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

// InTx joins an open transaction instead of nesting one
func (r *gormTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}
	return WithTransaction(ctx, r.db, fn)
}
