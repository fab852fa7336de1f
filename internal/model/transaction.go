package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusUnpaid  = "UNPAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusPaid    = "PAID"
)

// Transaction is a service-counter transaction. The row itself is created by
// the order-entry flow; the settlement ledger owns only the derived payment
// fields (paid_amount, balance_amount, payment_status) and recomputes them
// from the settlement history on every write.
type Transaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ORNumber      string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"or_number"`   // official receipt number
	CustomerID    *int64          `gorm:"index" json:"customer_id,omitempty"`                       // owned by the customer/queue module
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`                // total owed, may be adjusted by add-ons
	PaidAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"paid_amount"` // always sum(settlements.amount)
	BalanceAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance_amount"`
	PaymentStatus string          `gorm:"type:varchar(16);index;not null;default:UNPAID" json:"payment_status"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "pos_transaction"
}

// StatusFor derives the payment status from exact decimal amounts.
// PAID requires a positive total: a zero-amount transaction with nothing
// collected stays UNPAID rather than flipping to PAID.
func StatusFor(total, paid decimal.Decimal) string {
	switch {
	case paid.IsZero():
		return PaymentStatusUnpaid
	case total.IsPositive() && paid.GreaterThanOrEqual(total):
		return PaymentStatusPaid
	default:
		return PaymentStatusPartial
	}
}

// BalanceFor returns max(total - paid, 0) with exact decimal subtraction.
func BalanceFor(total, paid decimal.Decimal) decimal.Decimal {
	balance := total.Sub(paid)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}
