package uow

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"
)

// SQLOpener opens database/sql transactions.
type SQLOpener struct {
	DB      *sql.DB
	Options *sql.TxOptions
}

// Open begins a transaction.
func (o SQLOpener) Open(ctx context.Context) (Tx, error) {
	if o.DB == nil {
		return nil, errors.New("sql opener has no database")
	}
	return o.DB.BeginTx(ctx, o.Options)
}

// SQLTx returns the *sql.Tx of the unit of work in ctx, opening it if
// needed.
func SQLTx(ctx context.Context) (*sql.Tx, error) {
	return sessionAs[*sql.Tx](ctx)
}

// GormOpener opens gorm transactions.
type GormOpener struct {
	DB      *gorm.DB
	Options *sql.TxOptions
}

// Open begins a gorm transaction.
func (o GormOpener) Open(ctx context.Context) (Tx, error) {
	if o.DB == nil {
		return nil, errors.New("gorm opener has no database")
	}
	tx := o.DB.WithContext(ctx).Begin(o.Options)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{db: tx}, nil
}

// gormTx adapts a gorm transaction to Tx.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Commit() error {
	return t.db.Commit().Error
}

func (t *gormTx) Rollback() error {
	return t.db.Rollback().Error
}

// GormTx returns the gorm transaction of the unit of work in ctx, opening
// it if needed.
func GormTx(ctx context.Context) (*gorm.DB, error) {
	tx, err := sessionAs[*gormTx](ctx)
	if err != nil {
		return nil, err
	}
	return tx.db, nil
}
