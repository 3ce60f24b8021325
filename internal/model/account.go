package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 账户类型常量
// ============================================================================

const (
	AccountTypeChecking   = "checking"
	AccountTypeSavings    = "savings"
	AccountTypeCreditCard = "credit_card"
	AccountTypeInvestment = "investment"
)

// ValidAccountType 判断账户类型是否在支持的集合内
func ValidAccountType(t string) bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeCreditCard, AccountTypeInvestment:
		return true
	}
	return false
}

// Account 账户表
// 余额是唯一会变化的字段，且只能通过记账引擎（ApplyDelta）修改
//
// 【不变量】
// 1. Balance 在任何可观察时刻都 >= 0
// 2. Balance == OpeningBalance + 所有流水的带符号金额之和
type Account struct {
	AccountID      string          `gorm:"type:varchar(36);primaryKey" json:"account_id"`
	OwnerID        string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	Name           string          `gorm:"type:varchar(128);not null" json:"name"`
	AccountType    string          `gorm:"type:varchar(20);not null" json:"account_type"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	Balance        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
	Currency       string          `gorm:"type:char(3);not null" json:"currency"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// 只用于建立 transactions.account_id -> accounts.account_id 外键，不做预加载
	Entries []LedgerEntry `gorm:"foreignKey:AccountID;references:AccountID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}
