package repository

import (
	"context"
	"errors"
	"time"

	"posledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTransactionNotFound = errors.New("transaction not found")

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// GetByIDForUpdate reads the transaction row under a FOR UPDATE row lock so
// the validate-and-append sequence sees committed state and blocks concurrent
// writers for the same transaction. sqlite (used by tests) has no FOR UPDATE;
// there the keyed lock alone serializes writers.
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error) {
	if tx.Dialector.Name() == "mysql" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var txn model.Transaction
	err := tx.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// UpdateDerived overwrites the derived payment fields. Callers must hold the
// settlement lock for the transaction and run inside the same database
// transaction as the settlement insert.
func (r *TransactionRepository) UpdateDerived(ctx context.Context, tx *gorm.DB, id int64, paid, balance decimal.Decimal, status string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"paid_amount":    paid,
			"balance_amount": balance,
			"payment_status": status,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ListUpdatedSince returns transactions touched after the cutoff, oldest
// first. Used by the ledger audit job to bound its re-derivation scan.
func (r *TransactionRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]*model.Transaction, error) {
	var txns []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}
