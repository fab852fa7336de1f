package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentModeCash         = "CASH"
	PaymentModeGCash        = "GCASH"
	PaymentModeMaya         = "MAYA"
	PaymentModeCreditCard   = "CREDIT_CARD"
	PaymentModeBankTransfer = "BANK_TRANSFER"
)

// paymentModeAliases maps normalized client spellings to the canonical mode.
// Normalization happens once at ingress; everything past ParsePaymentMode
// deals only in canonical values.
var paymentModeAliases = map[string]string{
	"cash":          PaymentModeCash,
	"gcash":         PaymentModeGCash,
	"g-cash":        PaymentModeGCash,
	"maya":          PaymentModeMaya,
	"paymaya":       PaymentModeMaya,
	"credit_card":   PaymentModeCreditCard,
	"credit card":   PaymentModeCreditCard,
	"credit-card":   PaymentModeCreditCard,
	"creditcard":    PaymentModeCreditCard,
	"card":          PaymentModeCreditCard,
	"bank_transfer": PaymentModeBankTransfer,
	"bank transfer": PaymentModeBankTransfer,
	"bank-transfer": PaymentModeBankTransfer,
	"banktransfer":  PaymentModeBankTransfer,
}

// ParsePaymentMode normalizes a client-supplied payment mode into the closed
// enum. Returns the canonical mode and whether the input was recognized.
func ParsePaymentMode(raw string) (string, bool) {
	mode, ok := paymentModeAliases[strings.ToLower(strings.TrimSpace(raw))]
	return mode, ok
}

// PaymentSettlement is one recorded payment applied toward a transaction's
// total. Rows are append-only: the ledger never updates or deletes them.
type PaymentSettlement struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SettlementNo  string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"settlement_no"`
	TransactionID int64           `gorm:"index;not null" json:"transaction_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentMode   string          `gorm:"type:varchar(20);not null" json:"payment_mode"`
	CashierID     int64           `gorm:"index;not null" json:"cashier_id"`
	Notes         string          `gorm:"type:varchar(256)" json:"notes,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`

	// CashierName is populated by the history join; it is not a column.
	CashierName string `gorm:"-:migration;->" json:"cashier_name,omitempty"`
}

func (PaymentSettlement) TableName() string {
	return "payment_settlement"
}

// SumAmounts adds settlement amounts with exact decimal arithmetic.
func SumAmounts(settlements []*PaymentSettlement) decimal.Decimal {
	total := decimal.Zero
	for _, s := range settlements {
		total = total.Add(s.Amount)
	}
	return total
}
