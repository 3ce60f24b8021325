package job

import (
	"context"
	"time"

	"ledgerengine/internal/config"
	"ledgerengine/internal/repository"
	"ledgerengine/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileJob 定期核对所有账户的余额与流水
type ReconcileJob struct {
	accountRepo    *repository.AccountRepository
	accountService *service.AccountService
	log            *zap.Logger
	stopCh         chan struct{}
	interval       time.Duration
	batchSize      int
}

func NewReconcileJob(db *gorm.DB, accountService *service.AccountService, cfg *config.JobsConfig, log *zap.Logger) *ReconcileJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileJob{
		accountRepo:    repository.NewAccountRepository(db),
		accountService: accountService,
		log:            log.Named("reconcile"),
		stopCh:         make(chan struct{}),
		interval:       cfg.ReconcileInterval,
		batchSize:      cfg.ReconcileBatch,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("对账任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 遍历全部账户，返回不一致的账户ID
func (j *ReconcileJob) RunOnce(ctx context.Context) []string {
	var (
		after        string
		checked      int
		inconsistent []string
	)
	for {
		accounts, err := j.accountRepo.ListAfter(ctx, after, j.batchSize)
		if err != nil {
			j.log.Error("查询账户失败", zap.Error(err))
			return inconsistent
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			report, err := j.accountService.Check(ctx, account.AccountID)
			if err != nil {
				j.log.Warn("核对账户失败", zap.String("account_id", account.AccountID), zap.Error(err))
				continue
			}
			checked++
			if !report.Consistent {
				inconsistent = append(inconsistent, account.AccountID)
			}
		}
		after = accounts[len(accounts)-1].AccountID

		if ctx.Err() != nil {
			break
		}
	}

	j.log.Info("本次对账完成", zap.Int("checked", checked), zap.Int("inconsistent", len(inconsistent)))
	return inconsistent
}
