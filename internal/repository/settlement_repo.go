package repository

import (
	"context"

	"posledger/internal/model"

	"gorm.io/gorm"
)

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) Create(ctx context.Context, tx *gorm.DB, settlement *model.PaymentSettlement) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(settlement).Error
}

// ListByTransactionID returns the full settlement history newest first, each
// row labeled with the processing cashier's name. Pass the enclosing tx when
// the history feeds the paid-amount recompute so the sum and the insert read
// the same snapshot.
func (r *SettlementRepository) ListByTransactionID(ctx context.Context, tx *gorm.DB, transactionID int64) ([]*model.PaymentSettlement, error) {
	if tx == nil {
		tx = r.db
	}

	var settlements []*model.PaymentSettlement
	err := tx.WithContext(ctx).
		Model(&model.PaymentSettlement{}).
		Select("payment_settlement.*, cashier.full_name AS cashier_name").
		Joins("LEFT JOIN cashier ON cashier.id = payment_settlement.cashier_id").
		Where("payment_settlement.transaction_id = ?", transactionID).
		Order("payment_settlement.created_at DESC, payment_settlement.id DESC").
		Find(&settlements).Error
	return settlements, err
}
