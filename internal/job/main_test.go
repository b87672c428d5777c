package job

import (
	"fmt"
	"strings"
	"testing"

	"settlement/internal/config"
	"settlement/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试一个独立的内存库，连接数压到 1 避免 SQLITE_BUSY
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:job_%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层 DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	err = db.AutoMigrate(
		&model.Account{},
		&model.Order{},
		&model.AccountTransaction{},
		&model.PayoutRecord{},
		&model.MonitoredTask{},
		&model.WebhookEvent{},
		&model.WorkflowPurchase{},
		&model.AdminLog{},
		&model.OutboxMessage{},
	)
	if err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				SettleResult: "settle-result",
				PayoutResult: "payout-result",
				TaskResult:   "task-result",
			},
		},
		Monitor: config.MonitorConfig{
			PayoutIntervalSeconds: 1,
			PayoutBatchSize:       50,
			PayoutMaxRetry:        3,
			TaskIntervalSeconds:   1,
			TaskBatchSize:         100,
			TaskTimeoutMinutes:    30,
			TickTimeoutSeconds:    5,
		},
		Reward: config.RewardConfig{
			CoinsPerCent: 10,
		},
		Business: config.BusinessConfig{MaxRetryCount: 3},
	}
}
