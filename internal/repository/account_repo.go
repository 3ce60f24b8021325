package repository

import (
	"context"
	"errors"

	"ledgerengine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound   = errors.New("账户不存在")
	ErrInsufficientFunds = errors.New("余额不足")
)

// AccountRepository 账户存储，余额的唯一来源
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// Get 快照读
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOwned 按账户和所有者读取，账户不属于 ownerID 时同样返回 ErrAccountNotFound，
// 不暴露账户是否存在
func (r *AccountRepository) GetOwned(ctx context.Context, accountID, ownerID string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND owner_id = ?", accountID, ownerID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("account_id").
		Find(&accounts).Error
	return accounts, err
}

// ListAfter 按 account_id 游标分页，供对账任务遍历全部账户
func (r *AccountRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("account_id > ?", afterID).
		Order("account_id").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// ApplyDelta 唯一的余额修改入口，必须在与流水追加相同的事务 tx 内调用
//
// 【关键点】新余额基于事务内加锁读到的当前值计算，
// 而不是调用方事先读到的旧值，避免丢失更新。
// 结果为负时返回 ErrInsufficientFunds，调用方回滚整个事务。
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID string, delta decimal.Decimal) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	newBalance := account.Balance.Add(delta)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_id = ?", accountID).
		Update("balance", newBalance)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAccountNotFound
	}

	account.Balance = newBalance
	return &account, nil
}
