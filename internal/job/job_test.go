package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ledgerengine/internal/config"
	"ledgerengine/internal/infrastructure/database"
	"ledgerengine/internal/infrastructure/lock"
	"ledgerengine/internal/infrastructure/mq"
	"ledgerengine/internal/model"
	"ledgerengine/internal/repository"
	"ledgerengine/internal/service"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory(uuid.NewString(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func pending(t *testing.T, db *gorm.DB, key string) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      "ledger.transaction.committed",
		Payload:    `{"account_id":"` + key + `"}`,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, repository.NewOutboxRepository(db).Create(context.Background(), nil, msg))
	return msg
}

func reload(t *testing.T, db *gorm.DB, id int64) *model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return &msg
}

func TestOutboxSender_RunOnceWithKafka(t *testing.T) {
	db := setupDB(t)
	first := pending(t, db, "acc-1")
	second := pending(t, db, "acc-2")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != first.Payload {
			return errors.New("unexpected payload: " + string(val))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := mq.NewKafkaPublisherWithProducer(producer)
	defer func() { assert.NoError(t, publisher.Close()) }()

	cfg := config.Default().Jobs
	sender := NewOutboxSender(db, publisher, &cfg, zap.NewNop())

	assert.Equal(t, 1, sender.RunOnce(context.Background()))

	assert.Equal(t, model.OutboxStatusSent, reload(t, db, first.ID).Status)
	got := reload(t, db, second.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestOutboxSender_GivesUpAfterMaxRetry(t *testing.T) {
	db := setupDB(t)
	msg := pending(t, db, "acc-1")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	publisher := mq.NewKafkaPublisherWithProducer(producer)
	defer func() { assert.NoError(t, publisher.Close()) }()

	cfg := config.Default().Jobs
	cfg.MaxRetryCount = 2
	sender := NewOutboxSender(db, publisher, &cfg, zap.NewNop())

	assert.Zero(t, sender.RunOnce(context.Background()))
	assert.Zero(t, sender.RunOnce(context.Background()))

	got := reload(t, db, msg.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)

	// FAILED 的消息不再被拉取
	assert.Zero(t, sender.RunOnce(context.Background()))
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []string
}

func (p *recordingPublisher) publish(topic, key string, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, string(value))
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func TestOutboxSender_DeliversCommittedTransactions(t *testing.T) {
	db := setupDB(t)
	cfg := config.Default()
	cfg.Jobs.OutboxInterval = 10 * time.Millisecond
	guard := lock.NewLocalGuard(time.Second)

	accounts := service.NewAccountService(db, guard, cfg, zap.NewNop())
	txns := service.NewTransactionService(db, guard, cfg, zap.NewNop())

	ctx := context.Background()
	account, err := accounts.Open(ctx, &service.OpenAccountRequest{
		OwnerID:        "owner-1",
		Name:           "main",
		AccountType:    model.AccountTypeChecking,
		OpeningBalance: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	res, err := txns.Submit(ctx, &service.SubmitRequest{
		AccountID: account.AccountID,
		OwnerID:   "owner-1",
		Amount:    decimal.RequireFromString("12.34"),
		Kind:      model.KindWithdrawal,
	})
	require.NoError(t, err)

	rec := &recordingPublisher{}
	sender := NewOutboxSender(db, mq.NewLogPublisher(rec.publish), &cfg.Jobs, zap.NewNop())
	go sender.Start(ctx)
	defer sender.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	payload := rec.messages[0]
	rec.mu.Unlock()

	var event model.TransactionCommittedEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &event))
	assert.Equal(t, res.TransactionID, event.TransactionID)
	assert.Equal(t, model.KindWithdrawal, event.Kind)
	assert.Equal(t, "87.66", event.BalanceAfter)
}

func TestReconcileJob_FindsTamperedAccounts(t *testing.T) {
	db := setupDB(t)
	cfg := config.Default()
	cfg.Jobs.ReconcileBatch = 2
	guard := lock.NewLocalGuard(time.Second)

	accounts := service.NewAccountService(db, guard, cfg, zap.NewNop())
	txns := service.NewTransactionService(db, guard, cfg, zap.NewNop())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		account, err := accounts.Open(ctx, &service.OpenAccountRequest{
			OwnerID:        "owner-1",
			Name:           "acc",
			AccountType:    model.AccountTypeSavings,
			OpeningBalance: decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		_, err = txns.Submit(ctx, &service.SubmitRequest{
			AccountID: account.AccountID,
			OwnerID:   "owner-1",
			Amount:    decimal.NewFromInt(3),
			Kind:      model.KindDeposit,
		})
		require.NoError(t, err)
		ids = append(ids, account.AccountID)
	}

	job := NewReconcileJob(db, accounts, &cfg.Jobs, zap.NewNop())
	assert.Empty(t, job.RunOnce(ctx))

	require.NoError(t, db.Model(&model.Account{}).
		Where("account_id = ?", ids[1]).
		Update("balance", decimal.NewFromInt(1000)).Error)

	assert.Equal(t, []string{ids[1]}, job.RunOnce(ctx))
}
