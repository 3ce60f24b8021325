package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledgerengine/internal/apperr"
	"ledgerengine/internal/config"
	"ledgerengine/internal/infrastructure/lock"
	"ledgerengine/internal/model"
	"ledgerengine/internal/repository"
	"ledgerengine/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 金额最多保留的小数位，与 decimal(20,4) 列一致
const amountScale = 4

// State 一次提交所处的状态
//
//	Received -> Validated -> FundsChecked -> Committed
//	               |              \-> Rejected
//	               \-> Rejected
type State int

const (
	StateReceived State = iota
	StateValidated
	StateFundsChecked
	StateCommitted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateValidated:
		return "Validated"
	case StateFundsChecked:
		return "FundsChecked"
	case StateCommitted:
		return "Committed"
	case StateRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransactionService 记账引擎：校验、加锁、在一个数据库事务内修改余额并追加流水
type TransactionService struct {
	db          *gorm.DB
	guard       lock.Guard
	cfg         *config.Config
	log         *zap.Logger
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
	now         func() time.Time
}

func NewTransactionService(db *gorm.DB, guard lock.Guard, cfg *config.Config, log *zap.Logger) *TransactionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionService{
		db:          db,
		guard:       guard,
		cfg:         cfg,
		log:         log,
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		now:         time.Now,
	}
}

// SubmitRequest 一次记账请求，调用方已完成身份认证
//
// Kind 为 transfer 时只扣减本账户。给对方账户入账需要调用方再提交一笔 deposit，
// 两次提交之间不是原子的，需要原子性时由调用方在更高层做两阶段提交。
//
// IdempotencyKey 为空时重试不保证只执行一次。
type SubmitRequest struct {
	AccountID      string
	OwnerID        string
	Amount         decimal.Decimal
	Kind           model.Kind
	Category       string
	Description    string
	OccurredAt     *time.Time
	IdempotencyKey string
}

type SubmitResult struct {
	TransactionID string
	NewBalance    decimal.Decimal
	Entry         *model.LedgerEntry
	Replayed      bool // 命中幂等键，返回的是之前提交的结果
}

// submission 跟踪单次提交的状态
type submission struct {
	req   *SubmitRequest
	state State
}

func (s *submission) advance(to State) { s.state = to }

func (s *submission) reject(err error) error {
	s.state = StateRejected
	return err
}

// Submit 提交一笔交易
//
// 【关键点】
// 1. 金额和类型不合法时直接拒绝，不加锁、不访问存储
// 2. 同一账户的提交在 Guard 内串行执行
// 3. 余额修改、流水追加、事件写入在同一个数据库事务内，要么全部成功，要么全部回滚
func (s *TransactionService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	const op = "transaction.submit"
	sub := &submission{req: req, state: StateReceived}

	// 校验失败同样经过 Validated 再进入 Rejected
	sub.advance(StateValidated)
	if err := validateSubmit(req); err != nil {
		s.logRejected(sub, err)
		return nil, sub.reject(err)
	}

	account, err := s.accountRepo.GetOwned(ctx, req.AccountID, req.OwnerID)
	if err != nil {
		err = mapRepoError(op, err)
		s.logRejected(sub, err)
		return nil, sub.reject(err)
	}

	if req.IdempotencyKey != "" {
		result, err := s.replay(ctx, req)
		if err != nil || result != nil {
			return result, err
		}
	}

	var result *SubmitResult
	err = s.guard.WithExclusive(ctx, req.AccountID, func(ctx context.Context) error {
		sub.advance(StateFundsChecked)

		// 拿到锁后再次检查幂等，两个并发重试只会有一个提交
		if req.IdempotencyKey != "" {
			replayed, err := s.replay(ctx, req)
			if err != nil {
				return err
			}
			if replayed != nil {
				result = replayed
				return nil
			}
		}

		committed, err := s.commit(ctx, account, req)
		if err != nil {
			return err
		}
		result = committed
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) && req.IdempotencyKey != "" {
			// 其他实例抢先提交了同一个幂等键
			if replayed, rerr := s.replay(ctx, req); rerr == nil && replayed != nil {
				return replayed, nil
			}
		}
		err = mapSubmitError(op, err)
		s.logRejected(sub, err)
		return nil, sub.reject(err)
	}

	if result.Replayed {
		return result, nil
	}

	sub.advance(StateCommitted)
	s.log.Info("交易已提交",
		zap.String("transaction_id", result.TransactionID),
		zap.String("account_id", req.AccountID),
		zap.String("kind", string(req.Kind)),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", result.NewBalance.String()),
		zap.Stringer("state", sub.state),
	)
	return result, nil
}

// commit 原子单元：ApplyDelta + Append + Outbox，任一步失败整体回滚
func (s *TransactionService) commit(ctx context.Context, account *model.Account, req *SubmitRequest) (*SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Engine.CommitTimeout)
	defer cancel()

	now := s.now().UTC()
	occurredAt := now
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	occurredAt = occurredAt.Truncate(time.Millisecond)

	entry := &model.LedgerEntry{
		TransactionID: idgen.GenerateTransactionNo(),
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Kind:          req.Kind,
		Category:      req.Category,
		Description:   req.Description,
		OccurredAt:    occurredAt,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		entry.IdempotencyKey = &key
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.accountRepo.ApplyDelta(ctx, tx, req.AccountID, req.Kind.Signed(req.Amount))
		if err != nil {
			return err
		}
		entry.BalanceAfter = updated.Balance

		if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		payload, err := json.Marshal(model.TransactionCommittedEvent{
			TransactionID: entry.TransactionID,
			AccountID:     entry.AccountID,
			OwnerID:       account.OwnerID,
			Kind:          entry.Kind,
			Amount:        entry.Amount.StringFixed(2),
			BalanceAfter:  entry.BalanceAfter.StringFixed(2),
			Currency:      account.Currency,
			OccurredAt:    entry.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("序列化事件失败: %w", err)
		}
		outboxMsg := &model.OutboxMessage{
			MessageKey: entry.AccountID,
			Topic:      s.cfg.Kafka.Topic.TransactionCommitted,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &SubmitResult{
		TransactionID: entry.TransactionID,
		NewBalance:    entry.BalanceAfter,
		Entry:         entry,
	}, nil
}

// replay 查找相同幂等键已提交的流水，存在时返回原结果
func (s *TransactionService) replay(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	existing, err := s.ledgerRepo.GetByIdempotencyKey(ctx, nil, req.AccountID, req.IdempotencyKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "transaction.replay", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.Kind != req.Kind || !existing.Amount.Equal(req.Amount) {
		return nil, apperr.New(apperr.KindConflict, "transaction.replay", "幂等键已用于不同的请求")
	}
	return &SubmitResult{
		TransactionID: existing.TransactionID,
		NewBalance:    existing.BalanceAfter,
		Entry:         existing,
		Replayed:      true,
	}, nil
}

// ListTransactions 查询账户流水，最新的在前
func (s *TransactionService) ListTransactions(ctx context.Context, accountID, ownerID string, filter repository.LedgerFilter) ([]*model.LedgerEntry, error) {
	const op = "transaction.list"

	if err := validateFilter(op, filter); err != nil {
		return nil, err
	}
	if _, err := s.accountRepo.GetOwned(ctx, accountID, ownerID); err != nil {
		return nil, mapRepoError(op, err)
	}

	entries, err := s.ledgerRepo.Query(ctx, accountID, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, op, err)
	}
	return entries, nil
}

// ListOwnerTransactions 查询用户名下所有账户的流水，accountID 非空时只看该账户
func (s *TransactionService) ListOwnerTransactions(ctx context.Context, ownerID, accountID string, filter repository.LedgerFilter) ([]*model.LedgerEntry, error) {
	const op = "transaction.list_owner"

	if err := validateFilter(op, filter); err != nil {
		return nil, err
	}
	if accountID != "" {
		if _, err := s.accountRepo.GetOwned(ctx, accountID, ownerID); err != nil {
			return nil, mapRepoError(op, err)
		}
	}

	entries, err := s.ledgerRepo.QueryByOwner(ctx, ownerID, accountID, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, op, err)
	}
	return entries, nil
}

func validateFilter(op string, filter repository.LedgerFilter) error {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return apperr.New(apperr.KindInvalidRequest, op, fmt.Sprintf("不支持的交易类型: %q", filter.Kind))
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return apperr.New(apperr.KindInvalidRequest, op, "开始时间晚于结束时间")
	}
	return nil
}

func validateSubmit(req *SubmitRequest) error {
	const op = "transaction.validate"
	if !req.Amount.IsPositive() {
		return apperr.New(apperr.KindInvalidRequest, op, "金额必须大于0")
	}
	if !req.Amount.Equal(req.Amount.Round(amountScale)) {
		return apperr.New(apperr.KindInvalidRequest, op, fmt.Sprintf("金额最多保留%d位小数", amountScale))
	}
	if !req.Kind.Valid() {
		return apperr.New(apperr.KindInvalidRequest, op, fmt.Sprintf("不支持的交易类型: %q", req.Kind))
	}
	return nil
}

// mapRepoError 把存储层错误转换为 apperr
func mapRepoError(op string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrAccountNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case errors.Is(err, repository.ErrInsufficientFunds):
		return apperr.Wrap(apperr.KindInsufficientFunds, op, err)
	case errors.Is(err, repository.ErrDuplicateEntry):
		return apperr.Wrap(apperr.KindConflict, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindBusy, op, err)
	default:
		return apperr.Wrap(apperr.KindStorageFailure, op, err)
	}
}

func mapSubmitError(op string, err error) error {
	if errors.Is(err, lock.ErrBusy) {
		return apperr.Wrap(apperr.KindBusy, op, err)
	}
	return mapRepoError(op, err)
}

func (s *TransactionService) logRejected(sub *submission, err error) {
	kind := apperr.KindOf(err)
	fields := []zap.Field{
		zap.String("account_id", sub.req.AccountID),
		zap.String("kind", string(sub.req.Kind)),
		zap.String("amount", sub.req.Amount.String()),
		zap.Stringer("state", sub.state),
		zap.Stringer("reason", kind),
		zap.Error(err),
	}
	if kind == apperr.KindStorageFailure || kind == apperr.KindUnknown {
		s.log.Error("交易被拒绝", fields...)
		return
	}
	s.log.Info("交易被拒绝", fields...)
}
