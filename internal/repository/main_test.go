package repository

import (
	"fmt"
	"strings"
	"testing"

	"settlement/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared",
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
