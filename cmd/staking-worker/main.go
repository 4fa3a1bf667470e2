package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"staking-core/internal/handler"
	"staking-core/internal/server"
	"staking-core/internal/service"
	"staking-core/internal/service/chainrpc"
	"staking-core/internal/service/claim"
	"staking-core/internal/service/fee"
	"staking-core/internal/service/mq"
	"staking-core/internal/service/observer"
	"staking-core/internal/service/signer"
	"staking-core/internal/service/submission"
	"staking-core/internal/staking"
	"staking-core/pkg/cache"
	"staking-core/pkg/config"
	"staking-core/pkg/database"
	"staking-core/pkg/keystore"
	"staking-core/pkg/kms"
	"staking-core/pkg/logger"
	"staking-core/pkg/utils/lock"
)

// staking-worker 消费事实流，维护每个账户的质押状态，
// 并对外提供领取 / 赎回等操作的 HTTP 接口
func main() {
	// 1. 初始化配置与日志
	config.Init()
	cfg := config.Global
	logger.Init(cfg.App.Env, cfg.App.LogLevel)
	defer logger.Sync()

	logger.Info("启动质押服务 (Staking Worker)...", zap.String("env", cfg.App.Env), zap.Int("chains", len(cfg.Chains)))

	topics := mq.Topics{
		Facts:     cfg.Staking.Topics.Facts,
		Snapshots: cfg.Staking.Topics.Snapshots,
		Outcomes:  cfg.Staking.Topics.Outcomes,
		Refresh:   cfg.Staking.Topics.Refresh,
	}.WithDefaults()

	// 2. Redis: Stream MQ / 分布式锁 / 二级手续费缓存
	needRedis := cfg.Redis.MQType != "kafka" || cfg.Submission.LockBackend == "redis"
	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if needRedis {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
		logger.Warn("Redis 不可用，手续费只使用本地缓存", zap.Error(err))
		rdb = nil
	}

	// 3. MQ
	var (
		producer mq.Producer
		consumer mq.Consumer
	)
	if cfg.Redis.MQType == "kafka" {
		logger.Info("MQ Mode: Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
		kp := mq.NewKafkaProducer(cfg.Kafka.Brokers)
		defer kp.Close()
		producer = kp
		consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	} else {
		logger.Info("MQ Mode: Redis Stream")
		producer = mq.NewRedisProducer(rdb, 100000)
		consumer = mq.NewRedisConsumer(rdb, cfg.Kafka.GroupID, hostname())
	}
	publisher := service.NewPublisher(producer, topics)

	// 4. 事实接入
	obs := observer.NewFactObserver(observer.Options{
		Buffer:       cfg.Staking.FactBuffer,
		AlertContext: alertContext(cfg),
	}, publisher, publisher)

	// 5. 链连接、编码、手续费
	endpoints := make(map[string]string, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		endpoints[ch.Name] = ch.RpcUrl
	}
	pool := chainrpc.NewPool(endpoints)
	encoder, err := chainrpc.NewMetadataEncoder(pool)
	if err != nil {
		logger.Fatal("初始化编码器失败", zap.Error(err))
	}
	pool.InspectWith(encoder)

	var feeStore cache.Cache = cache.NewMemoryCache(cfg.Fee.QuoteTTL, cfg.Fee.CleanupInterval)
	if rdb != nil {
		feeStore = cache.NewMultiLevelCache(feeStore, cache.NewRedisCache(rdb, "staking:fee:"))
	}
	fees := fee.NewCache(encoder, pool, feeStore, cfg.Fee.QuoteTTL)

	// 6. 签名
	keys := kms.NewLocalKMS()
	kmsSigner := signer.NewKMSSigner(keys, pool)
	if err := loadSigningKeys(keys, kmsSigner, cfg); err != nil {
		logger.Fatal("加载签名密钥失败", zap.Error(err))
	}

	// 7. 提交
	var locker lock.DistributedLock
	if cfg.Submission.LockBackend == "redis" {
		locker = lock.NewRedisLock(rdb, hostname())
	} else {
		locker = lock.NewLocalLock()
	}
	monitor, err := submission.NewMonitor(encoder, kmsSigner, pool, locker, obs, submission.Config{
		WaitFinalized: cfg.Submission.WaitFinalized,
		LockTTL:       cfg.Submission.LockTTL,
		HistorySize:   cfg.Submission.HistorySize,
		EventBuffer:   cfg.Submission.EventBuffer,
	}, publisher)
	if err != nil {
		logger.Fatal("初始化提交监控失败", zap.Error(err))
	}
	claims := claim.NewService(obs, fees, monitor, claim.Config{
		ProfitCheckAllClaims: cfg.Staking.ProfitCheckAllClaims,
	})

	// 8. 启动
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := obs.Start(ctx); err != nil {
		logger.Fatal("启动事实接入失败", zap.Error(err))
	}

	chainNames := make([]string, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		chainNames = append(chainNames, ch.Name)
	}
	cronSvc := service.NewCronService(locker, obs, publisher, encoder, fees, service.CronConfig{
		StaleSpec:  cfg.Staking.WatchdogSpec,
		StaleAfter: cfg.Staking.StaleAfter,
		EvictAfter: cfg.Staking.EvictAfter,
		EpochSpec:  cfg.Staking.WatchdogSpec,
		Chains:     chainNames,
	})
	if err := cronSvc.Start(); err != nil {
		logger.Fatal("启动定时任务失败", zap.Error(err))
	}

	health := &handler.HealthCheck{Pipes: obs.Pipes, InFlight: monitor.InFlight}
	router := server.NewHTTPRouter(health, handler.NewStakingHandler(obs, obs, claims))
	app := server.New(server.Config{HttpPort: cfg.App.HttpPort}, router)

	// 9. 优雅退出: 逆序执行，先停消费再等提交落定
	app.OnShutdown(func(ctx context.Context) { pool.Close() })
	app.OnShutdown(func(ctx context.Context) {
		if rdb != nil {
			_ = rdb.Close()
		}
	})
	app.OnShutdown(func(ctx context.Context) { _ = obs.Stop() })
	app.OnShutdown(func(ctx context.Context) {
		if err := monitor.Wait(ctx); err != nil {
			logger.Warn("仍有未落定的提交", zap.Int("in_flight", monitor.InFlight()), zap.Error(err))
		}
	})
	app.OnShutdown(func(ctx context.Context) { cronSvc.Stop() })
	app.OnShutdown(func(ctx context.Context) {
		cancel()
		_ = consumer.Close()
	})

	// 消费者退出 (订阅失败) 时 gctx 结束，HTTP 随之优雅关闭
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("开始监听事实流", zap.String("topic", topics.Facts))
		if err := consumer.Subscribe(gctx, topics.Facts, obs.HandleMessage); err != nil && gctx.Err() == nil {
			return fmt.Errorf("订阅 %s 失败: %w", topics.Facts, err)
		}
		return nil
	})
	g.Go(func() error {
		app.Run(gctx)
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("质押服务异常退出", zap.Error(err))
	}
	logger.Info("质押服务已停止")
}

func alertContext(cfg config.Config) func(chain string) staking.AlertContext {
	return func(chain string) staking.AlertContext {
		ch, ok := cfg.Chain(chain)
		if !ok {
			return staking.AlertContext{}
		}
		return staking.AlertContext{Precision: ch.Precision, DisplayDigits: ch.DisplayDigits}
	}
}

// loadSigningKeys 开发环境: 从配置导入种子，并在每条链上绑定对应账户
// 生产环境应替换为 HSM / 云 KMS 实现的 kms.KeyManager
func loadSigningKeys(keys *kms.LocalKMS, s *signer.KMSSigner, cfg config.Config) error {
	if cfg.Signer.KeystoreDir != "" {
		files, err := keystore.LoadDir(cfg.Signer.KeystoreDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			seed, err := f.Decrypt(cfg.Signer.Password)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Account, err)
			}
			if err := bindSeed(keys, s, cfg, f.Account, kms.KeyType(f.KeyType), seed); err != nil {
				return err
			}
		}
	}
	for account, seedHex := range cfg.Signer.Seeds {
		seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
		if err != nil {
			return err
		}
		kType := kms.KeyTypeEd25519
		if t, ok := cfg.Signer.KeyTypes[account]; ok {
			kType = kms.KeyType(t)
		}
		if err := bindSeed(keys, s, cfg, account, kType, seed); err != nil {
			return err
		}
	}
	return nil
}

func bindSeed(keys *kms.LocalKMS, s *signer.KMSSigner, cfg config.Config, account string, kType kms.KeyType, seed []byte) error {
	keyID, err := keys.ImportKey(kType, seed)
	if err != nil {
		return err
	}
	for _, ch := range cfg.Chains {
		if err := s.Register(staking.AccountKey{Account: account, Chain: ch.Name}, keyID); err != nil {
			return err
		}
	}
	logger.Info("签名密钥已加载", zap.String("account", account), zap.String("type", string(kType)), zap.Int("chains", len(cfg.Chains)))
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "staking-worker-" + time.Now().Format("150405")
	}
	return name
}
