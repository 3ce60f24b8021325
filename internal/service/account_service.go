package service

import (
	"context"
	"fmt"
	"strings"

	"ledgerengine/internal/apperr"
	"ledgerengine/internal/config"
	"ledgerengine/internal/infrastructure/lock"
	"ledgerengine/internal/model"
	"ledgerengine/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AccountService struct {
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	guard       lock.Guard
	cfg         *config.Config
	log         *zap.Logger
}

func NewAccountService(db *gorm.DB, guard lock.Guard, cfg *config.Config, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		guard:       guard,
		cfg:         cfg,
		log:         log,
	}
}

type OpenAccountRequest struct {
	OwnerID        string
	Name           string
	AccountType    string
	OpeningBalance decimal.Decimal
	Currency       string
}

// Open 开户，开户余额记为 OpeningBalance，不产生流水
func (s *AccountService) Open(ctx context.Context, req *OpenAccountRequest) (*model.Account, error) {
	const op = "account.open"

	if req.OwnerID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, op, "owner 不能为空")
	}
	if !model.ValidAccountType(req.AccountType) {
		return nil, apperr.New(apperr.KindInvalidRequest, op, fmt.Sprintf("不支持的账户类型: %q", req.AccountType))
	}
	if req.OpeningBalance.IsNegative() {
		return nil, apperr.New(apperr.KindInvalidRequest, op, "开户余额不能为负")
	}
	if !req.OpeningBalance.Equal(req.OpeningBalance.Round(amountScale)) {
		return nil, apperr.New(apperr.KindInvalidRequest, op, fmt.Sprintf("金额最多保留%d位小数", amountScale))
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.Engine.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, apperr.New(apperr.KindInvalidRequest, op, "货币代码必须是3位")
	}

	account := &model.Account{
		AccountID:      uuid.NewString(),
		OwnerID:        req.OwnerID,
		Name:           req.Name,
		AccountType:    req.AccountType,
		OpeningBalance: req.OpeningBalance,
		Balance:        req.OpeningBalance,
		Currency:       currency,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, op, err)
	}

	s.log.Info("账户已开立",
		zap.String("account_id", account.AccountID),
		zap.String("owner_id", account.OwnerID),
		zap.String("account_type", account.AccountType),
		zap.String("currency", account.Currency),
	)
	return account, nil
}

func (s *AccountService) Get(ctx context.Context, accountID, ownerID string) (*model.Account, error) {
	account, err := s.accountRepo.GetOwned(ctx, accountID, ownerID)
	if err != nil {
		return nil, mapRepoError("account.get", err)
	}
	return account, nil
}

func (s *AccountService) List(ctx context.Context, ownerID string) ([]*model.Account, error) {
	accounts, err := s.accountRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "account.list", err)
	}
	return accounts, nil
}

// ReconcileReport 余额与流水的核对结果
type ReconcileReport struct {
	AccountID      string          `json:"account_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	LedgerSum      decimal.Decimal `json:"ledger_sum"`
	Expected       decimal.Decimal `json:"expected"`
	Balance        decimal.Decimal `json:"balance"`
	Entries        int64           `json:"entries"`
	Consistent     bool            `json:"consistent"`
}

// Reconcile 核对单个账户：Balance 必须等于 OpeningBalance 加上全部流水的带符号金额
func (s *AccountService) Reconcile(ctx context.Context, accountID, ownerID string) (*ReconcileReport, error) {
	if _, err := s.accountRepo.GetOwned(ctx, accountID, ownerID); err != nil {
		return nil, mapRepoError("account.reconcile", err)
	}
	return s.Check(ctx, accountID)
}

// Check 在账户锁内读取余额并累加流水，读到的是同一个时刻的状态
func (s *AccountService) Check(ctx context.Context, accountID string) (*ReconcileReport, error) {
	const op = "account.check"

	var report *ReconcileReport
	err := s.guard.WithExclusive(ctx, accountID, func(ctx context.Context) error {
		account, err := s.accountRepo.Get(ctx, accountID)
		if err != nil {
			return err
		}
		sum, n, err := s.ledgerRepo.Fold(ctx, accountID)
		if err != nil {
			return err
		}
		expected := account.OpeningBalance.Add(sum)
		report = &ReconcileReport{
			AccountID:      accountID,
			OpeningBalance: account.OpeningBalance,
			LedgerSum:      sum,
			Expected:       expected,
			Balance:        account.Balance,
			Entries:        n,
			Consistent:     expected.Equal(account.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, mapSubmitError(op, err)
	}

	if !report.Consistent {
		s.log.Error("账户余额与流水不一致",
			zap.String("account_id", accountID),
			zap.String("balance", report.Balance.String()),
			zap.String("expected", report.Expected.String()),
		)
	}
	return report, nil
}
