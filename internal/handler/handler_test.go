package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()

	dsn := fmt.Sprintf("file:handler_%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	sqlDB, _ := db.DB()
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

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				SettleResult: "settle-result",
				PayoutResult: "payout-result",
				TaskResult:   "task-result",
			},
		},
		Gateway: config.GatewayConfig{
			APIv3Key: "0123456789abcdef0123456789abcdef",
		},
		Reward: config.RewardConfig{CoinsPerCent: 10},
	}

	return db, SetupRouter(db, nil, cfg, nil)
}

// notify 端点无论内部处理结果如何都必须按网关协议应答，
// 否则网关会认为投递失败无限重投
func TestPayNotifyAlwaysAcks(t *testing.T) {
	_, router := newTestRouter(t)

	cases := []struct {
		name string
		body string
	}{
		{"非法报文", "not json"},
		{"缺少通知ID", `{"event_type":"TRANSACTION.SUCCESS"}`},
		{"无法解密的通知", `{"id":"NOTIF-X","event_type":"TRANSACTION.SUCCESS","resource":{"ciphertext":"AAAA","associated_data":"transaction","nonce":"abcdef123456"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/pay/notify", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("应答状态码应为 200, got %d", w.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("解析应答失败: %v", err)
			}
			if resp["code"] != "SUCCESS" {
				t.Errorf("应答码应为 SUCCESS, got %s", resp["code"])
			}
		})
	}
}

func TestGetBalance(t *testing.T) {
	db, router := newTestRouter(t)

	db.Create(&model.Account{UserID: 700, Balance: 12800, Coins: 9900})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/account/balance?user_id=700", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			UserID  int64 `json:"user_id"`
			Balance int64 `json:"balance"`
			Coins   int64 `json:"wh_coins"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析应答失败: %v", err)
	}
	if resp.Code != 0 {
		t.Errorf("业务码应为 0, got %d", resp.Code)
	}
	if resp.Data.Balance != 12800 || resp.Data.Coins != 9900 {
		t.Errorf("余额错误: %+v", resp.Data)
	}
}

func TestGetBalanceBadParam(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/account/balance?user_id=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Code int `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != 400 {
		t.Errorf("参数错误应返回业务码 400, got %d", resp.Code)
	}
}

func TestGetOrderDetail(t *testing.T) {
	db, router := newTestRouter(t)

	db.Create(&model.Order{
		OrderNo:   "ORD-H-001",
		UserID:    701,
		Kind:      model.OrderKindMembership,
		ProductID: "basic-monthly",
		Amount:    990,
		Currency:  "CNY",
		Status:    model.OrderStatusCreated,
		ExpiredAt: time.Now().Add(30 * time.Minute),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/order/detail?order_no=ORD-H-001", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Code int         `json:"code"`
		Data model.Order `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析应答失败: %v", err)
	}
	if resp.Code != 0 || resp.Data.OrderNo != "ORD-H-001" || resp.Data.Amount != 990 {
		t.Errorf("订单详情错误: code=%d, data=%+v", resp.Code, resp.Data)
	}
}

func TestCreateChargeBadChannel(t *testing.T) {
	_, router := newTestRouter(t)

	body := `{"order_no":"ORD-X","channel":"app"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pay/charge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Code int `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != 400 {
		t.Errorf("非法渠道应返回业务码 400, got %d", resp.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("健康检查应返回 200, got %d", w.Code)
	}
}

func TestReconcileBalanceEndpoint(t *testing.T) {
	db, router := newTestRouter(t)

	db.Create(&model.Account{UserID: 700, Balance: 5000})
	db.Create(&model.AccountTransaction{
		TransactionNo:     "TXN-REC-001",
		UserID:            700,
		ExternalReference: "PB000000000001",
		Amount:            5000,
		Kind:              model.TransactionKindCommission,
		Status:            model.TransactionStatusCompleted,
		BalanceAfter:      5000,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/account/reconcile?user_id=700", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Balance         int64 `json:"balance"`
			ExpectedBalance int64 `json:"expected_balance"`
			Consistent      bool  `json:"consistent"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != 0 {
		t.Errorf("业务码错误: %d", resp.Code)
	}
	if !resp.Data.Consistent || resp.Data.Balance != 5000 || resp.Data.ExpectedBalance != 5000 {
		t.Errorf("对账结果错误: %+v", resp.Data)
	}

	// 参数错误
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/account/reconcile?user_id=abc", nil)
	router.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != 400 {
		t.Errorf("非法 user_id 应返回参数错误, got %d", resp.Code)
	}
}

func TestReplayFailedWebhooksEndpoint(t *testing.T) {
	_, router := newTestRouter(t)

	// 无待回放通知时空转
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhook/replay", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Replayed int `json:"replayed"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != 0 || resp.Data.Replayed != 0 {
		t.Errorf("空转回放结果错误: code=%d, replayed=%d", resp.Code, resp.Data.Replayed)
	}

	// 非法 limit
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhook/replay?limit=0", nil)
	router.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != 400 {
		t.Errorf("非法 limit 应返回参数错误, got %d", resp.Code)
	}
}
