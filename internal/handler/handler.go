package handler

import (
	"time"

	"ledgerengine/internal/model"
	"ledgerengine/internal/repository"
	"ledgerengine/internal/service"
	"ledgerengine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 统一处理器，只负责 JSON 绑定和响应转换
type Handler struct {
	accountService     *service.AccountService
	transactionService *service.TransactionService
}

// NewHandler 创建处理器实例
func NewHandler(accountService *service.AccountService, transactionService *service.TransactionService) *Handler {
	return &Handler{
		accountService:     accountService,
		transactionService: transactionService,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// OpenAccountRequest 开户请求
type OpenAccountRequest struct {
	Name           string          `json:"name" binding:"required"`
	AccountType    string          `json:"account_type" binding:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Currency       string          `json:"currency"`
}

// OpenAccount 开户
// POST /api/v1/accounts
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.Open(c.Request.Context(), &service.OpenAccountRequest{
		OwnerID:        ownerFrom(c),
		Name:           req.Name,
		AccountType:    req.AccountType,
		OpeningBalance: req.OpeningBalance,
		Currency:       req.Currency,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Created(c, accountView(account))
}

// ListAccounts 查询所有者的账户
// GET /api/v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountService.List(c.Request.Context(), ownerFrom(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	list := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, accountView(a))
	}
	response.Success(c, gin.H{"accounts": list})
}

// GetAccount 查询账户详情
// GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.accountService.Get(c.Request.Context(), c.Param("id"), ownerFrom(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, accountView(account))
}

// Reconcile 核对账户余额与流水
// GET /api/v1/accounts/:id/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.accountService.Reconcile(c.Request.Context(), c.Param("id"), ownerFrom(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// ============================================================
// 交易相关接口
// ============================================================

// SubmitTransactionRequest 记账请求
type SubmitTransactionRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Kind        model.Kind      `json:"kind" binding:"required"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	OccurredAt  *time.Time      `json:"occurred_at"`
}

// SubmitTransaction 提交交易
// POST /api/v1/accounts/:id/transactions
//
// 重试时请带上相同的 Idempotency-Key 请求头，否则可能重复记账
func (h *Handler) SubmitTransaction(c *gin.Context) {
	var req SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.transactionService.Submit(c.Request.Context(), &service.SubmitRequest{
		AccountID:      c.Param("id"),
		OwnerID:        ownerFrom(c),
		Amount:         req.Amount,
		Kind:           req.Kind,
		Category:       req.Category,
		Description:    req.Description,
		OccurredAt:     req.OccurredAt,
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	data := gin.H{
		"transaction_id": result.TransactionID,
		"new_balance":    result.NewBalance.StringFixed(2),
		"replayed":       result.Replayed,
	}
	if result.Replayed {
		response.Success(c, data)
		return
	}
	response.Created(c, data)
}

// ListTransactions 查询流水
// GET /api/v1/accounts/:id/transactions?from=2024-01-01T00:00:00Z&to=...&kind=deposit
func (h *Handler) ListTransactions(c *gin.Context) {
	filter, ok := bindLedgerFilter(c)
	if !ok {
		return
	}

	entries, err := h.transactionService.ListTransactions(c.Request.Context(), c.Param("id"), ownerFrom(c), filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"transactions": entryViews(entries)})
}

// ListOwnerTransactions 查询当前用户所有账户的流水
// GET /api/v1/transactions?account_id=...&from=...&to=...&kind=deposit
func (h *Handler) ListOwnerTransactions(c *gin.Context) {
	filter, ok := bindLedgerFilter(c)
	if !ok {
		return
	}

	entries, err := h.transactionService.ListOwnerTransactions(c.Request.Context(), ownerFrom(c), c.Query("account_id"), filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"transactions": entryViews(entries)})
}

// bindLedgerFilter 解析 from / to / kind，失败时已经写好响应
func bindLedgerFilter(c *gin.Context) (repository.LedgerFilter, bool) {
	var filter repository.LedgerFilter

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.ParamError(c, "from 参数错误")
			return filter, false
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.ParamError(c, "to 参数错误")
			return filter, false
		}
		filter.To = &t
	}
	filter.Kind = model.Kind(c.Query("kind"))
	return filter, true
}

func entryViews(entries []*model.LedgerEntry) []gin.H {
	list := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		list = append(list, gin.H{
			"transaction_id": e.TransactionID,
			"account_id":     e.AccountID,
			"amount":         e.Amount.StringFixed(2),
			"kind":           e.Kind,
			"category":       e.Category,
			"description":    e.Description,
			"balance_after":  e.BalanceAfter.StringFixed(2),
			"occurred_at":    e.OccurredAt,
		})
	}
	return list
}

func accountView(a *model.Account) gin.H {
	return gin.H{
		"account_id":      a.AccountID,
		"name":            a.Name,
		"account_type":    a.AccountType,
		"balance":         a.Balance.StringFixed(2),
		"opening_balance": a.OpeningBalance.StringFixed(2),
		"currency":        a.Currency,
		"created_at":      a.CreatedAt,
	}
}
