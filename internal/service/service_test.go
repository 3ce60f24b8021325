package service

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ledgerengine/internal/config"
	"ledgerengine/internal/infrastructure/database"
	"ledgerengine/internal/infrastructure/lock"
	"ledgerengine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOwner = "owner-1"

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	guard    *countingGuard
	accounts *AccountService
	txns     *TransactionService
}

// countingGuard 记录 WithExclusive 的调用次数
type countingGuard struct {
	lock.Guard
	calls atomic.Int32
}

func (g *countingGuard) WithExclusive(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	g.calls.Add(1)
	return g.Guard.WithExclusive(ctx, accountID, fn)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenInMemory(uuid.NewString(), nil)
	require.NoError(t, err)
	return newTestEnvWithDB(t, db)
}

// newFileTestEnv 使用临时文件库，连接被丢弃后数据仍然保留
func newFileTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, nil)
	require.NoError(t, err)
	return newTestEnvWithDB(t, db)
}

func newTestEnvWithDB(t *testing.T, db *gorm.DB) *testEnv {
	t.Helper()
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Default()
	cfg.Engine.LockWait = 10 * time.Second

	guard := &countingGuard{Guard: lock.NewLocalGuard(cfg.Engine.LockWait)}
	return &testEnv{
		db:       db,
		cfg:      cfg,
		guard:    guard,
		accounts: NewAccountService(db, guard, cfg, zap.NewNop()),
		txns:     NewTransactionService(db, guard, cfg, zap.NewNop()),
	}
}

func (e *testEnv) openAccount(t *testing.T, opening string) *model.Account {
	t.Helper()
	account, err := e.accounts.Open(context.Background(), &OpenAccountRequest{
		OwnerID:        testOwner,
		Name:           "main",
		AccountType:    model.AccountTypeChecking,
		OpeningBalance: dec(opening),
	})
	require.NoError(t, err)
	return account
}

func (e *testEnv) countRows(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}

func (e *testEnv) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	var account model.Account
	require.NoError(t, e.db.Where("account_id = ?", accountID).First(&account).Error)
	return account.Balance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
