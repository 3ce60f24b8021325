package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgerengine/internal/config"
	"ledgerengine/internal/handler"
	"ledgerengine/internal/infrastructure/cache"
	"ledgerengine/internal/infrastructure/database"
	"ledgerengine/internal/infrastructure/lock"
	"ledgerengine/internal/infrastructure/logging"
	"ledgerengine/internal/infrastructure/mq"
	"ledgerengine/internal/job"
	"ledgerengine/internal/service"
	"ledgerengine/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法机器ID，多实例部署时必须互不相同")
	flag.Parse()

	if err := run(*configPath, *workerID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, workerID int64) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := idgen.Init(workerID); err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return err
	}

	var guard lock.Guard
	switch cfg.Engine.LockBackend {
	case config.LockBackendRedis:
		redisClient, err := cache.NewRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		guard = lock.NewRedisGuard(redisClient, cfg.Engine.LockWait, cfg.Engine.LockTTL, cfg.Engine.LockRetryInterval, log)
		log.Info("使用 Redis 账户锁")
	default:
		guard = lock.NewLocalGuard(cfg.Engine.LockWait)
		log.Info("使用进程内账户锁")
	}

	var publisher mq.Publisher
	if cfg.Kafka.Enabled {
		kafka, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher = kafka
	} else {
		publisher = mq.NewLogPublisher(func(topic, key string, value []byte) {
			log.Debug("事件", zap.String("topic", topic), zap.String("key", key), zap.ByteString("value", value))
		})
	}
	defer publisher.Close()

	accountService := service.NewAccountService(db, guard, cfg, log)
	transactionService := service.NewTransactionService(db, guard, cfg, log)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, &cfg.Jobs, log)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewReconcileJob(db, accountService, &cfg.Jobs, log)
	go reconcileJob.Start(ctx)

	router := handler.SetupRouter(handler.NewHandler(accountService, transactionService), log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")

	// 先停止接收请求，再停止后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}
	cancel()

	log.Info("服务已关闭")
	return nil
}
