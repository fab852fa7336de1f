package job

import (
	"context"
	"log"
	"time"

	"posledger/internal/config"
	"posledger/internal/infrastructure/lock"
	"posledger/internal/model"
	"posledger/internal/repository"

	"gorm.io/gorm"
)

// LedgerAuditJob periodically re-derives paid_amount, balance_amount and
// payment_status from the settlement history for recently touched
// transactions. Add-on flows adjust transaction totals outside the ledger;
// this job converges the derived fields back to the history without waiting
// for the next settlement.
type LedgerAuditJob struct {
	db              *gorm.DB
	locker          lock.Locker
	transactionRepo *repository.TransactionRepository
	settlementRepo  *repository.SettlementRepository
	cfg             *config.Config
	interval        time.Duration
	lookback        time.Duration
	batchSize       int
}

func NewLedgerAuditJob(db *gorm.DB, locker lock.Locker, cfg *config.Config) *LedgerAuditJob {
	interval := time.Duration(cfg.Business.AuditIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	lookback := time.Duration(cfg.Business.AuditLookbackMinutes) * time.Minute
	if lookback <= 0 {
		lookback = 10 * time.Minute
	}

	return &LedgerAuditJob{
		db:              db,
		locker:          locker,
		transactionRepo: repository.NewTransactionRepository(db),
		settlementRepo:  repository.NewSettlementRepository(db),
		cfg:             cfg,
		interval:        interval,
		lookback:        lookback,
		batchSize:       100,
	}
}

func (j *LedgerAuditJob) Start(ctx context.Context) {
	log.Println("[LedgerAudit] started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[LedgerAudit] stopped")
			return
		case <-ticker.C:
			j.auditRecent(ctx)
		}
	}
}

func (j *LedgerAuditJob) auditRecent(ctx context.Context) {
	since := time.Now().Add(-j.lookback)
	txns, err := j.transactionRepo.ListUpdatedSince(ctx, since, j.batchSize)
	if err != nil {
		log.Printf("[LedgerAudit] list transactions: %v", err)
		return
	}

	for _, txn := range txns {
		if err := j.AuditTransaction(ctx, txn.ID); err != nil {
			log.Printf("[LedgerAudit] audit txn=%d: %v", txn.ID, err)
		}
	}
}

// AuditTransaction re-derives one transaction's payment fields under the
// same lock settlement writes use, and repairs them if they drifted.
func (j *LedgerAuditJob) AuditTransaction(ctx context.Context, transactionID int64) error {
	release, err := j.locker.Acquire(ctx, lock.SettlementLockKey(transactionID), "ledger-audit")
	if err != nil {
		return err
	}
	defer func() {
		if err := release(ctx); err != nil {
			log.Printf("[LedgerAudit] release lock failed: txn=%d, err=%v", transactionID, err)
		}
	}()

	return j.db.Transaction(func(tx *gorm.DB) error {
		txn, err := j.transactionRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		history, err := j.settlementRepo.ListByTransactionID(ctx, tx, txn.ID)
		if err != nil {
			return err
		}

		paid := model.SumAmounts(history)
		balance := model.BalanceFor(txn.Amount, paid)
		status := model.StatusFor(txn.Amount, paid)

		if txn.PaidAmount.Equal(paid) && txn.BalanceAmount.Equal(balance) && txn.PaymentStatus == status {
			return nil
		}

		log.Printf("[LedgerAudit] repairing drifted transaction: txn=%d, paid %s->%s, status %s->%s",
			txn.ID, txn.PaidAmount.StringFixed(2), paid.StringFixed(2), txn.PaymentStatus, status)

		return j.transactionRepo.UpdateDerived(ctx, tx, txn.ID, paid, balance, status)
	})
}
