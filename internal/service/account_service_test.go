package service

import (
	"context"
	"testing"

	"ledgerengine/internal/apperr"
	"ledgerengine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountService_Open(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, err := env.accounts.Open(ctx, &OpenAccountRequest{
		OwnerID:        testOwner,
		Name:           "savings",
		AccountType:    model.AccountTypeSavings,
		OpeningBalance: dec("250.75"),
		Currency:       " eur ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, account.AccountID)
	assert.Equal(t, "EUR", account.Currency)
	assert.True(t, account.Balance.Equal(dec("250.75")))
	assert.True(t, account.OpeningBalance.Equal(account.Balance))

	defaulted := env.openAccount(t, "0")
	assert.Equal(t, "PLN", defaulted.Currency)
	assert.Zero(t, env.countRows(t, &model.LedgerEntry{}), "opening does not write entries")
}

func TestAccountService_OpenRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  OpenAccountRequest
	}{
		{"missing owner", OpenAccountRequest{AccountType: model.AccountTypeChecking}},
		{"bad type", OpenAccountRequest{OwnerID: testOwner, AccountType: "brokerage"}},
		{"negative opening", OpenAccountRequest{OwnerID: testOwner, AccountType: model.AccountTypeChecking, OpeningBalance: dec("-1")}},
		{"opening precision", OpenAccountRequest{OwnerID: testOwner, AccountType: model.AccountTypeChecking, OpeningBalance: dec("1.00001")}},
		{"bad currency", OpenAccountRequest{OwnerID: testOwner, AccountType: model.AccountTypeChecking, Currency: "EURO"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.accounts.Open(context.Background(), &tt.req)
			assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		})
	}
	assert.Zero(t, env.countRows(t, &model.Account{}))
}

func TestAccountService_GetAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.openAccount(t, "1")
	b := env.openAccount(t, "2")
	_, err := env.accounts.Open(ctx, &OpenAccountRequest{
		OwnerID:     "owner-2",
		Name:        "other",
		AccountType: model.AccountTypeInvestment,
	})
	require.NoError(t, err)

	got, err := env.accounts.Get(ctx, a.AccountID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, a.AccountID, got.AccountID)

	_, err = env.accounts.Get(ctx, a.AccountID, "owner-2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := env.accounts.List(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].AccountID, list[1].AccountID}
	assert.ElementsMatch(t, []string{a.AccountID, b.AccountID}, ids)
}

func TestAccountService_Reconcile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.openAccount(t, "100")

	for _, req := range []*SubmitRequest{
		submit(model.KindDeposit, account.AccountID, "20.25"),
		submit(model.KindWithdrawal, account.AccountID, "5"),
		submit(model.KindTransfer, account.AccountID, "0.25"),
	} {
		_, err := env.txns.Submit(ctx, req)
		require.NoError(t, err)
	}

	report, err := env.accounts.Reconcile(ctx, account.AccountID, testOwner)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(3), report.Entries)
	assert.True(t, report.LedgerSum.Equal(dec("15")), report.LedgerSum.String())
	assert.True(t, report.Balance.Equal(dec("115")))

	_, err = env.accounts.Reconcile(ctx, account.AccountID, "owner-2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// 绕过引擎直接改余额，核对应发现不一致
	require.NoError(t, env.db.Model(&model.Account{}).
		Where("account_id = ?", account.AccountID).
		Update("balance", decimal.RequireFromString("116")).Error)

	report, err = env.accounts.Check(ctx, account.AccountID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.True(t, report.Expected.Equal(dec("115")))
}
