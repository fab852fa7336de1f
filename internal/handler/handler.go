package handler

import (
	"errors"
	"strconv"

	"posledger/internal/config"
	"posledger/internal/infrastructure/lock"
	"posledger/internal/repository"
	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Handler struct {
	settlementService *service.SettlementService
}

func NewHandler(db *gorm.DB, locker lock.Locker, cfg *config.Config) *Handler {
	return &Handler{
		settlementService: service.NewSettlementService(db, locker, cfg),
	}
}

// CreateSettlementRequest is the wire form of a settlement. Amount arrives
// as a JSON number and is decoded straight into a decimal, so 333.33 stays
// 333.33.
type CreateSettlementRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	PaymentMode string          `json:"payment_mode" binding:"required"`
	CashierID   int64           `json:"cashier_id" binding:"required"`
	Notes       string          `json:"notes"`
}

// CreateSettlement records a payment against a transaction.
// POST /api/v1/transactions/:id/settlements
func (h *Handler) CreateSettlement(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid transaction id")
		return
	}

	var req CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.settlementService.CreateSettlement(c.Request.Context(), &service.CreateSettlementRequest{
		TransactionID: transactionID,
		Amount:        req.Amount,
		PaymentMode:   req.PaymentMode,
		CashierID:     req.CashierID,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

// GetSettlements returns the settlement history, newest first.
// GET /api/v1/transactions/:id/settlements
func (h *Handler) GetSettlements(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid transaction id")
		return
	}

	settlements, err := h.settlementService.GetSettlements(c.Request.Context(), transactionID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"settlements": settlements,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var overpaymentErr *service.OverpaymentError

	switch {
	case errors.As(err, &validationErr):
		if validationErr.Field == "payment_mode" {
			response.Error(c, response.CodeInvalidPaymentMode, validationErr.Error())
			return
		}
		response.ParamError(c, validationErr.Error())
	case errors.As(err, &overpaymentErr):
		response.ErrorWithData(c, response.CodeOverpayment, overpaymentErr.Error(), gin.H{
			"attempted_amount":  overpaymentErr.Attempted,
			"remaining_balance": overpaymentErr.Remaining,
		})
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.Error(c, response.CodeTransactionNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
