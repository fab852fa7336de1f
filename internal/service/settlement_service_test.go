package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"posledger/internal/config"
	"posledger/internal/infrastructure/database"
	"posledger/internal/infrastructure/lock"
	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func setupLedger(t *testing.T) (*gorm.DB, *SettlementService) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PaymentEvents: "pos.payment.events"},
		},
	}

	return db, NewSettlementService(db, lock.NewLocalLocker(), cfg)
}

func seedTransaction(t *testing.T, db *gorm.DB, orNumber, amount string) *model.Transaction {
	t.Helper()
	txn := &model.Transaction{
		ORNumber:      orNumber,
		Amount:        dec(amount),
		PaidAmount:    decimal.Zero,
		BalanceAmount: dec(amount),
		PaymentStatus: model.PaymentStatusUnpaid,
	}
	require.NoError(t, db.Create(txn).Error)
	return txn
}

func seedCashier(t *testing.T, db *gorm.DB, name string) *model.Cashier {
	t.Helper()
	cashier := &model.Cashier{FullName: name, Active: true}
	require.NoError(t, db.Create(cashier).Error)
	return cashier
}

func TestCreateSettlementFullPayment(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1001", "1000")
	cashier := seedCashier(t, db, "Maria Santos")

	result, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID,
		Amount:        dec("1000"),
		PaymentMode:   "CASH",
		CashierID:     cashier.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, model.PaymentStatusPaid, result.Transaction.PaymentStatus)
	assert.True(t, result.Transaction.BalanceAmount.IsZero())
	assert.True(t, dec("1000").Equal(result.Transaction.PaidAmount))
	require.Len(t, result.Settlements, 1)
	assert.Equal(t, model.PaymentModeCash, result.Settlements[0].PaymentMode)
	assert.NotEmpty(t, result.Settlements[0].SettlementNo)
}

func TestCreateSettlementBoundaryThenOverpayment(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1002", "1000")
	cashier := seedCashier(t, db, "Jun Reyes")

	_, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("900"), PaymentMode: "gcash", CashierID: cashier.ID,
	})
	require.NoError(t, err)

	result, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("100"), PaymentMode: "cash", CashierID: cashier.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, result.Transaction.PaymentStatus)

	// One more centavo against the fully paid transaction must be rejected
	// with the true remaining balance of zero.
	_, err = svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("0.01"), PaymentMode: "cash", CashierID: cashier.ID,
	})
	var overpayment *OverpaymentError
	require.ErrorAs(t, err, &overpayment)
	assert.True(t, overpayment.Remaining.IsZero())
	assert.True(t, dec("0.01").Equal(overpayment.Attempted))

	// The rejected attempt wrote nothing.
	history, err := svc.GetSettlements(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCreateSettlementValidation(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1003", "500")
	cashier := seedCashier(t, db, "Ana Cruz")

	tests := []struct {
		name  string
		req   *CreateSettlementRequest
		field string
	}{
		{
			"missing transaction id",
			&CreateSettlementRequest{Amount: dec("10"), PaymentMode: "cash", CashierID: cashier.ID},
			"transaction_id",
		},
		{
			"zero amount",
			&CreateSettlementRequest{TransactionID: txn.ID, PaymentMode: "cash", CashierID: cashier.ID},
			"amount",
		},
		{
			"negative amount",
			&CreateSettlementRequest{TransactionID: txn.ID, Amount: dec("-5"), PaymentMode: "cash", CashierID: cashier.ID},
			"amount",
		},
		{
			"sub-centavo amount",
			&CreateSettlementRequest{TransactionID: txn.ID, Amount: dec("10.001"), PaymentMode: "cash", CashierID: cashier.ID},
			"amount",
		},
		{
			"missing cashier",
			&CreateSettlementRequest{TransactionID: txn.ID, Amount: dec("10"), PaymentMode: "cash"},
			"cashier_id",
		},
		{
			"unknown payment mode",
			&CreateSettlementRequest{TransactionID: txn.ID, Amount: dec("10"), PaymentMode: "bitcoin", CashierID: cashier.ID},
			"payment_mode",
		},
		{
			// Field checks come before the payment mode check.
			"missing amount reported before bad mode",
			&CreateSettlementRequest{TransactionID: txn.ID, PaymentMode: "bitcoin", CashierID: cashier.ID},
			"amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSettlement(ctx, tt.req)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.field, validation.Field)
		})
	}

	// Nothing was written by any of the rejected requests.
	var count int64
	require.NoError(t, db.Model(&model.PaymentSettlement{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateSettlementTransactionNotFound(t *testing.T) {
	_, svc := setupLedger(t)

	_, err := svc.CreateSettlement(context.Background(), &CreateSettlementRequest{
		TransactionID: 99999, Amount: dec("10"), PaymentMode: "cash", CashierID: 1,
	})
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
}

func TestCreateSettlementDecimalPrecision(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1004", "999.99")
	cashier := seedCashier(t, db, "Lito Garcia")

	var result *SettlementResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = svc.CreateSettlement(ctx, &CreateSettlementRequest{
			TransactionID: txn.ID, Amount: dec("333.33"), PaymentMode: "maya", CashierID: cashier.ID,
		})
		require.NoError(t, err)
	}

	// 3 x 333.33 settles 999.99 exactly; any float drift would leave the
	// transaction PARTIAL with a phantom balance.
	assert.True(t, dec("999.99").Equal(result.Transaction.PaidAmount),
		"paid_amount = %s", result.Transaction.PaidAmount)
	assert.True(t, result.Transaction.BalanceAmount.IsZero())
	assert.Equal(t, model.PaymentStatusPaid, result.Transaction.PaymentStatus)
}

func TestCreateSettlementConcurrentCashiers(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1005", "1000")
	cashier := seedCashier(t, db, "Maria Santos")

	// Any two of these fit within the balance; all three never do. Exactly
	// one attempt must lose, regardless of arrival order.
	amounts := []string{"500", "400", "300"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	overpayments := 0

	for _, amount := range amounts {
		wg.Add(1)
		go func(amount string) {
			defer wg.Done()
			_, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
				TransactionID: txn.ID, Amount: dec(amount), PaymentMode: "cash", CashierID: cashier.ID,
			})

			mu.Lock()
			defer mu.Unlock()
			var overpayment *OverpaymentError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &overpayment):
				overpayments++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(amount)
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	assert.Equal(t, 1, overpayments)

	var updated model.Transaction
	require.NoError(t, db.First(&updated, txn.ID).Error)
	assert.True(t, updated.PaidAmount.LessThanOrEqual(dec("1000")),
		"paid_amount %s exceeds total", updated.PaidAmount)

	// Ledger invariant: stored paid_amount equals the settled history sum.
	history, err := svc.GetSettlements(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, model.SumAmounts(history).Equal(updated.PaidAmount))
}

func TestCreateSettlementRollbackOnPersistenceFailure(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1006", "1000")
	cashier := seedCashier(t, db, "Jun Reyes")

	// Break the outbox table so the event write fails after the settlement
	// insert has happened inside the transaction.
	require.NoError(t, db.Migrator().DropTable(&model.OutboxMessage{}))

	_, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("100"), PaymentMode: "cash", CashierID: cashier.ID,
	})
	var persistence *PersistenceError
	require.ErrorAs(t, err, &persistence)

	// All-or-nothing: no settlement row, derived fields untouched.
	var count int64
	require.NoError(t, db.Model(&model.PaymentSettlement{}).Count(&count).Error)
	assert.Zero(t, count)

	var after model.Transaction
	require.NoError(t, db.First(&after, txn.ID).Error)
	assert.True(t, after.PaidAmount.IsZero())
	assert.Equal(t, model.PaymentStatusUnpaid, after.PaymentStatus)
}

func TestCreateSettlementSelfHealsExternalAdjustment(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1007", "1000")
	cashier := seedCashier(t, db, "Ana Cruz")

	_, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("400"), PaymentMode: "cash", CashierID: cashier.ID,
	})
	require.NoError(t, err)

	// An add-on flow raises the total and leaves stale derived fields.
	require.NoError(t, db.Model(&model.Transaction{}).Where("id = ?", txn.ID).
		Updates(map[string]interface{}{
			"amount":      dec("1500"),
			"paid_amount": dec("9999"),
		}).Error)

	result, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("100"), PaymentMode: "cash", CashierID: cashier.ID,
	})
	require.NoError(t, err)

	// Recomputed from history (400 + 100), not from the corrupted field.
	assert.True(t, dec("500").Equal(result.Transaction.PaidAmount))
	assert.True(t, dec("1000").Equal(result.Transaction.BalanceAmount))
	assert.Equal(t, model.PaymentStatusPartial, result.Transaction.PaymentStatus)
}

func TestCreateSettlementStagesOutboxEvents(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1008", "250")
	cashier := seedCashier(t, db, "Lito Garcia")

	_, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
		TransactionID: txn.ID, Amount: dec("250"), PaymentMode: "bank transfer", CashierID: cashier.ID,
	})
	require.NoError(t, err)

	var messages []*model.OutboxMessage
	require.NoError(t, db.Order("id ASC").Find(&messages).Error)
	require.Len(t, messages, 2)

	assert.Equal(t, model.EventPaymentStatusUpdated, messages[0].EventType)
	assert.Equal(t, model.EventTransactionUpdated, messages[1].EventType)
	for _, msg := range messages {
		assert.Equal(t, model.OutboxStatusPending, msg.Status)
		assert.Equal(t, "pos.payment.events", msg.Topic)
	}
	assert.Contains(t, messages[0].Payload, "OR-1008")
	assert.Contains(t, messages[0].Payload, model.PaymentStatusPaid)
	assert.Contains(t, messages[1].Payload, "payment_settlement_created")
}

func TestGetSettlementsNewestFirstAndIdempotent(t *testing.T) {
	db, svc := setupLedger(t)
	ctx := context.Background()
	txn := seedTransaction(t, db, "OR-1009", "1000")
	cashier := seedCashier(t, db, "Maria Santos")

	for _, amount := range []string{"100", "200", "300"} {
		_, err := svc.CreateSettlement(ctx, &CreateSettlementRequest{
			TransactionID: txn.ID, Amount: dec(amount), PaymentMode: "cash", CashierID: cashier.ID,
		})
		require.NoError(t, err)
	}

	first, err := svc.GetSettlements(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Newest first: the 300 settlement was recorded last.
	assert.True(t, dec("300").Equal(first[0].Amount))
	assert.True(t, dec("100").Equal(first[2].Amount))
	assert.Equal(t, "Maria Santos", first[0].CashierName)

	// Pure read: a repeat call with no intervening writes is identical.
	second, err := svc.GetSettlements(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].SettlementNo, second[i].SettlementNo)
		assert.True(t, first[i].Amount.Equal(second[i].Amount))
	}
}

func TestGetSettlementsUnknownTransaction(t *testing.T) {
	_, svc := setupLedger(t)

	_, err := svc.GetSettlements(context.Background(), 12345)
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
}
