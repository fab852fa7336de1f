package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"posledger/internal/config"
	"posledger/internal/infrastructure/lock"
	"posledger/internal/model"
	"posledger/internal/repository"
	"posledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SettlementService is the payment settlement ledger. It appends settlements
// to a transaction, enforces that accumulated payments never exceed the
// transaction total, and re-derives paid/balance/status from the full
// settlement history inside the same atomic unit as every insert.
type SettlementService struct {
	db              *gorm.DB
	locker          lock.Locker
	cfg             *config.Config
	transactionRepo *repository.TransactionRepository
	settlementRepo  *repository.SettlementRepository
	outboxRepo      *repository.OutboxRepository
}

func NewSettlementService(db *gorm.DB, locker lock.Locker, cfg *config.Config) *SettlementService {
	return &SettlementService{
		db:              db,
		locker:          locker,
		cfg:             cfg,
		transactionRepo: repository.NewTransactionRepository(db),
		settlementRepo:  repository.NewSettlementRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

type CreateSettlementRequest struct {
	TransactionID int64
	Amount        decimal.Decimal
	PaymentMode   string
	CashierID     int64
	Notes         string
}

// SettlementResult carries the updated transaction and the full settlement
// history, newest first.
type SettlementResult struct {
	Transaction *model.Transaction         `json:"transaction"`
	Settlements []*model.PaymentSettlement `json:"settlements"`
}

// CreateSettlement records one payment against a transaction.
//
// Checks run in a fixed order and nothing is written on failure: missing
// fields, payment mode, transaction existence, then overpayment. The
// overpayment check happens under the per-transaction lock inside the same
// database transaction as the insert, so a losing concurrent caller is
// rejected against the committed balance, not the one it saw when it
// started.
func (s *SettlementService) CreateSettlement(ctx context.Context, req *CreateSettlementRequest) (*SettlementResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	mode, ok := model.ParsePaymentMode(req.PaymentMode)
	if !ok {
		return nil, &ValidationError{Field: "payment_mode", Reason: "unknown payment mode " + strconv.Quote(req.PaymentMode)}
	}

	// Existence check before taking the lock; the row is re-read
	// authoritatively under the lock below.
	if _, err := s.transactionRepo.GetByID(ctx, req.TransactionID); err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load transaction", Err: err}
	}

	settlementNo := idgen.GenerateSettlementNo()

	release, err := s.locker.Acquire(ctx, lock.SettlementLockKey(req.TransactionID), settlementNo)
	if err != nil {
		return nil, &PersistenceError{Op: "acquire settlement lock", Err: err}
	}
	defer func() {
		if err := release(ctx); err != nil {
			log.Printf("[SettlementService] release lock failed: txn=%d, err=%v", req.TransactionID, err)
		}
	}()

	var result *SettlementResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txn, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, req.TransactionID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return err
			}
			return &PersistenceError{Op: "lock transaction row", Err: err}
		}

		// Authoritative balance: recomputed from the settlement history, not
		// trusted from the stored derived fields.
		history, err := s.settlementRepo.ListByTransactionID(ctx, tx, txn.ID)
		if err != nil {
			return &PersistenceError{Op: "load settlement history", Err: err}
		}
		remaining := model.BalanceFor(txn.Amount, model.SumAmounts(history))

		if req.Amount.GreaterThan(remaining) {
			return &OverpaymentError{
				TransactionID: txn.ID,
				Attempted:     req.Amount,
				Remaining:     remaining,
			}
		}

		settlement := &model.PaymentSettlement{
			SettlementNo:  settlementNo,
			TransactionID: txn.ID,
			Amount:        req.Amount,
			PaymentMode:   mode,
			CashierID:     req.CashierID,
			Notes:         req.Notes,
		}
		if err := s.settlementRepo.Create(ctx, tx, settlement); err != nil {
			return &PersistenceError{Op: "insert settlement", Err: err}
		}

		// Recompute from the full history rather than adding incrementally;
		// this self-heals any external adjustment to the transaction total.
		history, err = s.settlementRepo.ListByTransactionID(ctx, tx, txn.ID)
		if err != nil {
			return &PersistenceError{Op: "reload settlement history", Err: err}
		}

		paid := model.SumAmounts(history)
		balance := model.BalanceFor(txn.Amount, paid)
		status := model.StatusFor(txn.Amount, paid)

		if err := s.transactionRepo.UpdateDerived(ctx, tx, txn.ID, paid, balance, status); err != nil {
			return &PersistenceError{Op: "update transaction", Err: err}
		}

		txn.PaidAmount = paid
		txn.BalanceAmount = balance
		txn.PaymentStatus = status

		if err := s.writeEvents(ctx, tx, txn, settlement); err != nil {
			return err
		}

		result = &SettlementResult{Transaction: txn, Settlements: history}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[SettlementService] settlement recorded: no=%s, txn=%d, amount=%s, status=%s",
		settlementNo, req.TransactionID, req.Amount.StringFixed(2), result.Transaction.PaymentStatus)

	return result, nil
}

// GetSettlements returns the settlement history newest first, labeled with
// cashier names. Pure read outside the settlement lock.
func (s *SettlementService) GetSettlements(ctx context.Context, transactionID int64) ([]*model.PaymentSettlement, error) {
	if transactionID <= 0 {
		return nil, &ValidationError{Field: "transaction_id", Reason: "must be positive"}
	}

	if _, err := s.transactionRepo.GetByID(ctx, transactionID); err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load transaction", Err: err}
	}

	settlements, err := s.settlementRepo.ListByTransactionID(ctx, nil, transactionID)
	if err != nil {
		return nil, &PersistenceError{Op: "load settlement history", Err: err}
	}
	return settlements, nil
}

func validateCreateRequest(req *CreateSettlementRequest) error {
	if req.TransactionID <= 0 {
		return &ValidationError{Field: "transaction_id", Reason: "must be positive"}
	}
	if !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Amount.Exponent() < -2 {
		return &ValidationError{Field: "amount", Reason: "more than two decimal places"}
	}
	if req.CashierID <= 0 {
		return &ValidationError{Field: "cashier_id", Reason: "must be positive"}
	}
	return nil
}

// writeEvents stages the domain events in the outbox inside the settlement's
// database transaction. Delivery to Kafka happens after commit in the outbox
// sender; a broker failure can therefore never roll back a settlement.
func (s *SettlementService) writeEvents(ctx context.Context, tx *gorm.DB, txn *model.Transaction, settlement *model.PaymentSettlement) error {
	now := time.Now()
	key := strconv.FormatInt(txn.ID, 10)

	statusPayload, _ := json.Marshal(map[string]interface{}{
		"transaction_id": txn.ID,
		"payment_status": txn.PaymentStatus,
		"paid_amount":    txn.PaidAmount,
		"balance_amount": txn.BalanceAmount,
		"customer_id":    txn.CustomerID,
		"or_number":      txn.ORNumber,
		"updated_by":     settlement.CashierID,
		"timestamp":      now.Format(time.RFC3339),
	})

	updatePayload, _ := json.Marshal(map[string]interface{}{
		"type":        "payment_settlement_created",
		"transaction": txn,
		"settlement":  settlement,
		"timestamp":   now.Format(time.RFC3339),
	})

	events := []*model.OutboxMessage{
		{
			MessageKey: key,
			Topic:      s.cfg.Kafka.Topic.PaymentEvents,
			EventType:  model.EventPaymentStatusUpdated,
			Payload:    string(statusPayload),
			Status:     model.OutboxStatusPending,
		},
		{
			MessageKey: key,
			Topic:      s.cfg.Kafka.Topic.PaymentEvents,
			EventType:  model.EventTransactionUpdated,
			Payload:    string(updatePayload),
			Status:     model.OutboxStatusPending,
		},
	}

	for _, event := range events {
		if err := s.outboxRepo.Create(ctx, tx, event); err != nil {
			return &PersistenceError{Op: "stage outbox event", Err: err}
		}
	}
	return nil
}
