package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"settlement/internal/config"
	"settlement/internal/gateway"
	"settlement/internal/model"

	"gorm.io/gorm"
)

const testNonce = "abcdef123456"

// buildNotification 构造一条加密通知报文
func buildNotification(t *testing.T, apiKey, notificationID, eventType string, resource map[string]interface{}) []byte {
	t.Helper()

	plaintext, err := json.Marshal(resource)
	if err != nil {
		t.Fatalf("序列化明文失败: %v", err)
	}

	ciphertext, err := gateway.EncryptAEAD(apiKey, "transaction", testNonce, plaintext)
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}

	raw, err := json.Marshal(map[string]interface{}{
		"id":            notificationID,
		"create_time":   "2024-01-15T14:30:52+08:00",
		"event_type":    eventType,
		"resource_type": "encrypt-resource",
		"resource": map[string]string{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      ciphertext,
			"associated_data": "transaction",
			"nonce":           testNonce,
			"original_type":   "transaction",
		},
	})
	if err != nil {
		t.Fatalf("序列化通知失败: %v", err)
	}
	return raw
}

func newWebhookFixture(t *testing.T) (*gorm.DB, *WebhookService) {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewWebhookService(db, cfg, NewSettleService(db, cfg))
	return db, svc
}

func TestHandleNotificationSettlesOrder(t *testing.T) {
	db, svc := newWebhookFixture(t)
	ctx := context.Background()

	createOrder(t, db, &model.Order{
		OrderNo:   "ORD-WH-001",
		UserID:    300,
		Kind:      model.OrderKindCoinRecharge,
		ProductID: "coin-990",
		Amount:    990,
	})

	raw := buildNotification(t, newTestConfig().Gateway.APIv3Key, "NOTIF-001", EventTypeTransactionSuccess, map[string]interface{}{
		"out_trade_no":   "ORD-WH-001",
		"transaction_id": "4200009001",
		"trade_state":    "SUCCESS",
		"amount":         map[string]int64{"total": 990},
	})

	if err := svc.HandleNotification(ctx, raw); err != nil {
		t.Fatalf("处理通知失败: %v", err)
	}

	var order model.Order
	db.Where("order_no = ?", "ORD-WH-001").First(&order)
	if order.Status != model.OrderStatusSettled {
		t.Errorf("订单应入账, got %s", order.Status)
	}

	var event model.WebhookEvent
	db.Where("notification_id = ?", "NOTIF-001").First(&event)
	if event.Status != model.WebhookStatusProcessed {
		t.Errorf("通知应标记为已处理, got %s", event.Status)
	}
	if event.ProcessedAt == nil {
		t.Error("应记录处理时间")
	}
}

func TestHandleNotificationDuplicateDelivery(t *testing.T) {
	db, svc := newWebhookFixture(t)
	ctx := context.Background()

	createOrder(t, db, &model.Order{
		OrderNo:   "ORD-WH-002",
		UserID:    301,
		Kind:      model.OrderKindCoinRecharge,
		ProductID: "coin-990",
		Amount:    990,
	})

	raw := buildNotification(t, newTestConfig().Gateway.APIv3Key, "NOTIF-002", EventTypeTransactionSuccess, map[string]interface{}{
		"out_trade_no":   "ORD-WH-002",
		"transaction_id": "4200009002",
		"trade_state":    "SUCCESS",
		"amount":         map[string]int64{"total": 990},
	})

	// 网关重投同一条通知三次
	for i := 0; i < 3; i++ {
		if err := svc.HandleNotification(ctx, raw); err != nil {
			t.Fatalf("第 %d 次处理失败: %v", i+1, err)
		}
	}

	var account model.Account
	db.Where("user_id = ?", int64(301)).First(&account)
	if account.Coins != 10900 {
		t.Errorf("重投不应重复入账, got %d", account.Coins)
	}
	var eventCount int64
	db.Model(&model.WebhookEvent{}).Count(&eventCount)
	if eventCount != 1 {
		t.Errorf("同一通知应只落库一条, got %d", eventCount)
	}
}

func TestHandleNotificationTamperedCiphertext(t *testing.T) {
	db, svc := newWebhookFixture(t)
	ctx := context.Background()

	createOrder(t, db, &model.Order{
		OrderNo:   "ORD-WH-003",
		UserID:    302,
		Kind:      model.OrderKindCoinRecharge,
		ProductID: "coin-990",
		Amount:    990,
	})

	raw := buildNotification(t, newTestConfig().Gateway.APIv3Key, "NOTIF-003", EventTypeTransactionSuccess, map[string]interface{}{
		"out_trade_no":   "ORD-WH-003",
		"transaction_id": "4200009003",
		"trade_state":    "SUCCESS",
		"amount":         map[string]int64{"total": 990},
	})

	// 篡改密文
	var envelope map[string]json.RawMessage
	json.Unmarshal(raw, &envelope)
	var resource map[string]string
	json.Unmarshal(envelope["resource"], &resource)
	cipherBytes, _ := base64.StdEncoding.DecodeString(resource["ciphertext"])
	cipherBytes[0] ^= 0x01
	resource["ciphertext"] = base64.StdEncoding.EncodeToString(cipherBytes)
	envelope["resource"], _ = json.Marshal(resource)
	tampered, _ := json.Marshal(envelope)

	err := svc.HandleNotification(ctx, tampered)
	if !errors.Is(err, gateway.ErrIntegrity) {
		t.Fatalf("篡改通知应返回完整性错误, got %v", err)
	}

	// 通知落库标记 FAILED，等待人工回放
	var event model.WebhookEvent
	db.Where("notification_id = ?", "NOTIF-003").First(&event)
	if event.Status != model.WebhookStatusFailed {
		t.Errorf("通知应标记为 FAILED, got %s", event.Status)
	}
	if event.ProcessError == "" {
		t.Error("应记录失败原因")
	}

	// 账本不能有任何变动
	var order model.Order
	db.Where("order_no = ?", "ORD-WH-003").First(&order)
	if order.Status != model.OrderStatusCreated {
		t.Errorf("订单状态不应变化, got %s", order.Status)
	}
	var txnCount int64
	db.Model(&model.AccountTransaction{}).Count(&txnCount)
	if txnCount != 0 {
		t.Errorf("不应产生流水, got %d", txnCount)
	}
}

func TestHandleNotificationFailedThenReplayed(t *testing.T) {
	db, svc := newWebhookFixture(t)
	ctx := context.Background()

	createOrder(t, db, &model.Order{
		OrderNo:   "ORD-WH-004",
		UserID:    303,
		Kind:      model.OrderKindCoinRecharge,
		ProductID: "coin-990",
		Amount:    990,
	})

	// 第一次投递订单金额不一致，处理失败
	bad := buildNotification(t, newTestConfig().Gateway.APIv3Key, "NOTIF-004", EventTypeTransactionSuccess, map[string]interface{}{
		"out_trade_no":   "ORD-WH-004",
		"transaction_id": "4200009004",
		"trade_state":    "SUCCESS",
		"amount":         map[string]int64{"total": 880},
	})
	if err := svc.HandleNotification(ctx, bad); err == nil {
		t.Fatal("金额不一致应处理失败")
	}

	var event model.WebhookEvent
	db.Where("notification_id = ?", "NOTIF-004").First(&event)
	if event.Status != model.WebhookStatusFailed {
		t.Fatalf("通知应标记为 FAILED, got %s", event.Status)
	}

	// 网关重投正确报文（同一通知ID），失败的通知允许回放
	good := buildNotification(t, newTestConfig().Gateway.APIv3Key, "NOTIF-004", EventTypeTransactionSuccess, map[string]interface{}{
		"out_trade_no":   "ORD-WH-004",
		"transaction_id": "4200009004",
		"trade_state":    "SUCCESS",
		"amount":         map[string]int64{"total": 990},
	})
	if err := svc.HandleNotification(ctx, good); err != nil {
		t.Fatalf("回放应成功: %v", err)
	}

	var order model.Order
	db.Where("order_no = ?", "ORD-WH-004").First(&order)
	if order.Status != model.OrderStatusSettled {
		t.Errorf("回放后订单应入账, got %s", order.Status)
	}
}

func TestHandleNotificationNonSettlementEvent(t *testing.T) {
	db, svc := newWebhookFixture(t)
	ctx := context.Background()

	raw := buildNotification(t, newTestConfig().Gateway.APIv3Key, "NOTIF-005", "REFUND.SUCCESS", map[string]interface{}{
		"out_trade_no": "ORD-WH-005",
		"trade_state":  "REFUND",
	})

	if err := svc.HandleNotification(ctx, raw); err != nil {
		t.Fatalf("非入账事件应正常处理: %v", err)
	}

	var event model.WebhookEvent
	db.Where("notification_id = ?", "NOTIF-005").First(&event)
	if event.Status != model.WebhookStatusProcessed {
		t.Errorf("非入账事件应标记已处理, got %s", event.Status)
	}
	var txnCount int64
	db.Model(&model.AccountTransaction{}).Count(&txnCount)
	if txnCount != 0 {
		t.Errorf("非入账事件不应产生流水, got %d", txnCount)
	}
}

func TestHandleNotificationBadEnvelope(t *testing.T) {
	_, svc := newWebhookFixture(t)

	if err := svc.HandleNotification(context.Background(), []byte("not json")); err == nil {
		t.Error("非法报文应报错")
	}
	if err := svc.HandleNotification(context.Background(), []byte(`{"event_type":"X"}`)); err == nil {
		t.Error("缺少通知ID应报错")
	}
}

// 入账阶段临时性失败的通知靠回放清扫恢复：
// 失败时配置缺失，补上配置后回放应完成入账
func TestReplayFailedNotifications(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	svc := NewWebhookService(db, cfg, NewSettleService(db, cfg))
	ctx := context.Background()

	createOrder(t, db, &model.Order{
		OrderNo:   "ORD-RP-001",
		UserID:    310,
		Kind:      model.OrderKindMembership,
		ProductID: "pro-monthly",
		Amount:    2990,
	})

	raw := buildNotification(t, cfg.Gateway.APIv3Key, "NOTIF-RP-001", EventTypeTransactionSuccess, map[string]interface{}{
		"out_trade_no":   "ORD-RP-001",
		"transaction_id": "4200009101",
		"trade_state":    "SUCCESS",
		"amount":         map[string]int64{"total": 2990},
	})

	// 套餐未配置，入账失败，通知落库标记 FAILED
	if err := svc.HandleNotification(ctx, raw); err == nil {
		t.Fatal("套餐缺失时处理应失败")
	}
	var event model.WebhookEvent
	db.Where("notification_id = ?", "NOTIF-RP-001").First(&event)
	if event.Status != model.WebhookStatusFailed {
		t.Fatalf("通知应标记为 FAILED, got %s", event.Status)
	}
	if event.ProcessError == "" {
		t.Error("应记录失败原因")
	}

	// 补上套餐配置后回放
	cfg.Reward.MembershipPlans["pro-monthly"] = config.MembershipPlan{Months: 1, BonusCoins: 80000}

	replayed, err := svc.ReplayFailed(ctx, 10)
	if err != nil {
		t.Fatalf("回放失败: %v", err)
	}
	if replayed != 1 {
		t.Errorf("应回放成功一条, got %d", replayed)
	}

	db.Where("notification_id = ?", "NOTIF-RP-001").First(&event)
	if event.Status != model.WebhookStatusProcessed {
		t.Errorf("回放后通知应为 PROCESSED, got %s", event.Status)
	}

	var order model.Order
	db.Where("order_no = ?", "ORD-RP-001").First(&order)
	if order.Status != model.OrderStatusSettled {
		t.Errorf("回放后订单应入账, got %s", order.Status)
	}
	var account model.Account
	db.Where("user_id = ?", int64(310)).First(&account)
	if account.Coins != 80000 {
		t.Errorf("回放后应发放赠送硬币, got %d", account.Coins)
	}

	// 没有待回放通知时清扫应空转
	replayed, err = svc.ReplayFailed(ctx, 10)
	if err != nil || replayed != 0 {
		t.Errorf("无待回放通知时应返回 0, got %d, err=%v", replayed, err)
	}
}
