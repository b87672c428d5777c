package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	TaskAPI  TaskAPIConfig  `mapstructure:"task_api"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Reward   RewardConfig   `mapstructure:"reward"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SettleResult string `mapstructure:"settle_result"`
	PayoutResult string `mapstructure:"payout_result"`
	TaskResult   string `mapstructure:"task_result"`
}

// GatewayConfig 支付网关配置
// 私钥和 APIv3 密钥进程启动时加载一次，运行期只读
type GatewayConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	MchID               string `mapstructure:"mch_id"`
	AppID               string `mapstructure:"app_id"`
	SerialNo            string `mapstructure:"serial_no"`
	PrivateKeyPath      string `mapstructure:"private_key_path"`
	APIv3Key            string `mapstructure:"apiv3_key"` // 32 字节对称密钥，用于通知解密
	NotifyURL           string `mapstructure:"notify_url"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	ChargeExpireMinutes int    `mapstructure:"charge_expire_minutes"`
}

// TaskAPIConfig 第三方工作流任务接口配置
type TaskAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MonitorConfig 后台监控任务配置
// 轮询间隔和批量大小均可调，不需要改代码重新发布
type MonitorConfig struct {
	PayoutIntervalSeconds int `mapstructure:"payout_interval_seconds"`
	PayoutBatchSize       int `mapstructure:"payout_batch_size"`
	PayoutMaxRetry        int `mapstructure:"payout_max_retry"`
	TaskIntervalSeconds   int `mapstructure:"task_interval_seconds"`
	TaskBatchSize         int `mapstructure:"task_batch_size"`
	TaskTimeoutMinutes    int `mapstructure:"task_timeout_minutes"` // 超过该时长仍未终态的任务判定为 TIMEOUT
	TickTimeoutSeconds    int `mapstructure:"tick_timeout_seconds"`
}

// RewardConfig 入账奖励配置
//
// 【注意】套餐时长、赠送硬币、充值档位都是运营口径，
// 以配置为准，代码里不写死任何价格表
type RewardConfig struct {
	MembershipPlans map[string]MembershipPlan `mapstructure:"membership_plans"`
	RechargeTiers   []RechargeTier            `mapstructure:"recharge_tiers"`
	CoinsPerCent    int64                     `mapstructure:"coins_per_cent"` // 无匹配档位时的兜底兑换比例
}

type MembershipPlan struct {
	Months     int   `mapstructure:"months"`
	BonusCoins int64 `mapstructure:"bonus_coins"`
}

// RechargeTier 充值档位，按 MinAmount 从大到小匹配第一个满足的档位
type RechargeTier struct {
	MinAmount  int64 `mapstructure:"min_amount"`
	Coins      int64 `mapstructure:"coins"`
	BonusCoins int64 `mapstructure:"bonus_coins"`
}

type BusinessConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"` // 发件箱投递重试上限
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
