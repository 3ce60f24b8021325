package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer" // 只记录转出方的扣款
)

// Valid 判断交易类型是否合法
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransfer:
		return true
	}
	return false
}

// Signed 返回该类型交易对余额的带符号影响
func (k Kind) Signed(amount decimal.Decimal) decimal.Decimal {
	if k == KindDeposit {
		return amount
	}
	return amount.Neg()
}

// ============================================================================
// 账户流水实体
// ============================================================================

// LedgerEntry 账户流水表
// 记录账户的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除，保证审计可追溯
// 2. Amount 始终为正数，方向由 Kind 决定
// 3. 记录交易后余额，便于校验余额一致性
type LedgerEntry struct {
	Seq            int64           `gorm:"primaryKey;autoIncrement" json:"-"` // 追加顺序
	TransactionID  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	AccountID      string          `gorm:"type:varchar(36);index:idx_account_occurred;uniqueIndex:idx_account_idem;not null" json:"account_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Kind           Kind            `gorm:"type:varchar(20);not null" json:"kind"`
	Category       string          `gorm:"type:varchar(64)" json:"category,omitempty"`
	Description    string          `gorm:"type:varchar(256)" json:"description,omitempty"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	IdempotencyKey *string         `gorm:"type:varchar(64);uniqueIndex:idx_account_idem" json:"idempotency_key,omitempty"`
	OccurredAt     time.Time       `gorm:"index:idx_account_occurred;not null" json:"occurred_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "transactions"
}

// SignedAmount 返回带符号金额（入账为正，出账为负）
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	return e.Kind.Signed(e.Amount)
}
