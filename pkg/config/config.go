package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Staking    StakingConfig    `mapstructure:"staking"`
	Fee        FeeConfig        `mapstructure:"fee"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Chains     []ChainConfig    `mapstructure:"chains"`
	Signer     SignerConfig     `mapstructure:"signer"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HttpPort string `mapstructure:"http_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type StakingConfig struct {
	// 每个 (账户, 链) 的事实队列长度
	FactBuffer int `mapstructure:"fact_buffer"`
	// false 时只有 pool 的领取奖励走盈利校验
	ProfitCheckAllClaims bool          `mapstructure:"profit_check_all_claims"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	EvictAfter           time.Duration `mapstructure:"evict_after"`
	WatchdogSpec         string        `mapstructure:"watchdog_spec"`
	Topics               TopicConfig   `mapstructure:"topics"`
}

type TopicConfig struct {
	Facts     string `mapstructure:"facts"`
	Snapshots string `mapstructure:"snapshots"`
	Outcomes  string `mapstructure:"outcomes"`
	Refresh   string `mapstructure:"refresh"`
}

type FeeConfig struct {
	QuoteTTL        time.Duration `mapstructure:"quote_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type SubmissionConfig struct {
	WaitFinalized bool          `mapstructure:"wait_finalized"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	HistorySize   int           `mapstructure:"history_size"`
	EventBuffer   int           `mapstructure:"event_buffer"`
	// "local" 或 "redis"
	LockBackend string `mapstructure:"lock_backend"`
}

type ChainConfig struct {
	Name          string `mapstructure:"name"`
	RpcUrl        string `mapstructure:"rpc_url"`
	Symbol        string `mapstructure:"symbol"`
	Precision     int32  `mapstructure:"precision"`
	DisplayDigits int32  `mapstructure:"display_digits"`
}

type SignerConfig struct {
	// account -> 十六进制私钥种子，仅用于本地开发 (通常通过环境变量传入)
	Seeds map[string]string `mapstructure:"seeds"`
	// account -> "Ed25519" / "Secp256k1"
	KeyTypes map[string]string `mapstructure:"key_types"`
	// 加密种子文件目录 (staking-cli keystore import 生成)，密码由 SIGNER_PASSWORD 传入
	KeystoreDir string `mapstructure:"keystore_dir"`
	Password    string `mapstructure:"password"`
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量: STAKING_FACT_BUFFER -> staking.fact_buffer
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

// Chain 按名称查找链配置
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "staking-worker")

	viper.SetDefault("staking.fact_buffer", 64)
	viper.SetDefault("staking.profit_check_all_claims", false)
	viper.SetDefault("staking.stale_after", 10*time.Minute)
	viper.SetDefault("staking.evict_after", 24*time.Hour)
	viper.SetDefault("staking.watchdog_spec", "@every 1m")
	viper.SetDefault("staking.topics.facts", "staking_facts")
	viper.SetDefault("staking.topics.snapshots", "staking_snapshots")
	viper.SetDefault("staking.topics.outcomes", "staking_outcomes")
	viper.SetDefault("staking.topics.refresh", "staking_refresh")

	viper.SetDefault("fee.quote_ttl", 10*time.Minute)
	viper.SetDefault("fee.cleanup_interval", 5*time.Minute)

	viper.SetDefault("submission.wait_finalized", false)
	viper.SetDefault("submission.lock_ttl", 10*time.Minute)
	viper.SetDefault("submission.history_size", 4096)
	viper.SetDefault("submission.event_buffer", 8)
	viper.SetDefault("submission.lock_backend", "local")
}
