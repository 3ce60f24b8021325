package repository

import (
	"context"
	"errors"
	"time"

	"ledgerengine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrDuplicateEntry 流水号或幂等键已被使用
var ErrDuplicateEntry = errors.New("流水已存在")

// LedgerFilter 流水查询条件，零值字段不参与过滤
type LedgerFilter struct {
	From  *time.Time
	To    *time.Time
	Kind  model.Kind
	Limit int
}

// LedgerRepository 只追加的流水存储
//
// 没有 Update / Delete 方法。
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append 追加一条流水，必须与 ApplyDelta 在同一事务 tx 内
func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("transaction_id = ?", entry.TransactionID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEntry
	}

	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func (r *LedgerRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetByIdempotencyKey 查询账户下某个幂等键已提交的流水，不存在时返回 nil
//
// tx 为 nil 时走普通连接
func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, accountID, key string) (*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// Query 按条件查询账户流水，最新的在前
func (r *LedgerRepository) Query(ctx context.Context, accountID string, filter LedgerFilter) ([]*model.LedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("transactions.account_id = ?", accountID)

	var entries []*model.LedgerEntry
	err := applyLedgerFilter(query, filter).Find(&entries).Error
	return entries, err
}

// QueryByOwner 查询某个用户名下全部账户的流水，accountID 非空时只看该账户
func (r *LedgerRepository) QueryByOwner(ctx context.Context, ownerID, accountID string, filter LedgerFilter) ([]*model.LedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.account_id = transactions.account_id").
		Where("accounts.owner_id = ?", ownerID)
	if accountID != "" {
		query = query.Where("transactions.account_id = ?", accountID)
	}

	var entries []*model.LedgerEntry
	err := applyLedgerFilter(query, filter).
		Select("transactions.*").
		Find(&entries).Error
	return entries, err
}

func applyLedgerFilter(query *gorm.DB, filter LedgerFilter) *gorm.DB {
	if filter.From != nil {
		query = query.Where("transactions.occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("transactions.occurred_at <= ?", *filter.To)
	}
	if filter.Kind != "" {
		query = query.Where("transactions.kind = ?", filter.Kind)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return query.
		Order("transactions.occurred_at DESC").
		Order("transactions.seq DESC")
}

// Fold 按追加顺序累加账户全部流水的带符号金额
func (r *LedgerRepository) Fold(ctx context.Context, accountID string) (decimal.Decimal, int64, error) {
	rows, err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("kind", "amount").
		Where("account_id = ?", accountID).
		Order("seq ASC").
		Rows()
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer rows.Close()

	sum := decimal.Zero
	var n int64
	for rows.Next() {
		var (
			kind   model.Kind
			amount decimal.Decimal
		)
		if err := rows.Scan(&kind, &amount); err != nil {
			return decimal.Zero, 0, err
		}
		sum = sum.Add(kind.Signed(amount))
		n++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, err
	}
	return sum, n, nil
}
