package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"settlement/internal/config"
	"settlement/internal/model"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("生成测试密钥失败: %v", err)
	}
	der, _ := x509.MarshalPKCS8PrivateKey(key)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	signer, err := NewSigner("1900000001", "SERIAL001", pemBytes)
	if err != nil {
		t.Fatalf("构造签名器失败: %v", err)
	}

	cfg := &config.GatewayConfig{
		BaseURL:             serverURL,
		MchID:               "1900000001",
		AppID:               "wxapp001",
		SerialNo:            "SERIAL001",
		NotifyURL:           "https://example.com/notify",
		TimeoutSeconds:      5,
		ChargeExpireMinutes: 30,
	}
	return NewClient(cfg, signer)
}

func TestCreateChargeH5(t *testing.T) {
	var gotReq chargeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/transactions/h5" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "WECHATPAY2-SHA256-RSA2048 ") {
			t.Errorf("缺少认证头: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"h5_url": "https://wx.gateway/pay?id=abc"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	order := &model.Order{
		OrderNo:   "ORD20240115143052001",
		Kind:      model.OrderKindCoinRecharge,
		ProductID: "coin-990",
		Amount:    990,
		Currency:  "CNY",
	}

	result, err := client.CreateCharge(context.Background(), order, ChannelH5, "203.0.113.7")
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if result.H5URL != "https://wx.gateway/pay?id=abc" {
		t.Errorf("H5URL 错误: %s", result.H5URL)
	}

	if gotReq.OutTradeNo != "ORD20240115143052001" {
		t.Errorf("out_trade_no 应取订单号, got %s", gotReq.OutTradeNo)
	}
	if gotReq.Amount.Total != 990 || gotReq.Amount.Currency != "CNY" {
		t.Errorf("金额错误: %+v", gotReq.Amount)
	}
	if gotReq.TimeExpire == "" {
		t.Error("应显式给出 time_expire")
	}
	if gotReq.SceneInfo == nil || gotReq.SceneInfo.PayerClientIP != "203.0.113.7" {
		t.Errorf("scene_info 错误: %+v", gotReq.SceneInfo)
	}
	if gotReq.SceneInfo.H5Info == nil || gotReq.SceneInfo.H5Info.Type != "Wap" {
		t.Errorf("h5_info 错误: %+v", gotReq.SceneInfo.H5Info)
	}
}

func TestCreateChargeNative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/transactions/native" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"code_url": "weixin://wxpay/bizpayurl?pr=xyz"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	order := &model.Order{OrderNo: "ORD002", Kind: model.OrderKindMembership, ProductID: "basic-monthly", Amount: 990, Currency: "CNY"}

	result, err := client.CreateCharge(context.Background(), order, ChannelNative, "")
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if result.CodeURL != "weixin://wxpay/bizpayurl?pr=xyz" {
		t.Errorf("CodeURL 错误: %s", result.CodeURL)
	}
}

func TestCreateChargeUnknownChannel(t *testing.T) {
	client := newTestClient(t, "http://unused")
	_, err := client.CreateCharge(context.Background(), &model.Order{OrderNo: "ORD003"}, ChargeChannel("app"), "")
	if err == nil {
		t.Fatal("未知渠道应报错")
	}
}

func TestQueryOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("方法错误: %s", r.Method)
		}
		if r.URL.Path != "/v3/pay/transactions/out-trade-no/ORD001" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		if r.URL.Query().Get("mchid") != "1900000001" {
			t.Errorf("缺少 mchid 参数: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"out_trade_no":   "ORD001",
			"transaction_id": "4200001234",
			"trade_state":    "SUCCESS",
			"amount":         map[string]int64{"total": 990},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	status, err := client.QueryOrder(context.Background(), "ORD001")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if status.TradeState != TradeStateSuccess || status.TransactionID != "4200001234" || status.Amount.Total != 990 {
		t.Errorf("查询结果错误: %+v", status)
	}
}

func TestCreateTransferDeterministicBatchNo(t *testing.T) {
	var gotReq transferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/transfer/batches" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"out_batch_no": gotReq.OutBatchNo,
			"batch_id":     "BATCH-X",
			"batch_status": "ACCEPTED",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	record := &model.PayoutRecord{
		ID:            42,
		BeneficiaryID: 7,
		OpenID:        "openid-7",
		Amount:        12800,
	}

	batch, err := client.CreateTransfer(context.Background(), record, "佣金结算")
	if err != nil {
		t.Fatalf("转账失败: %v", err)
	}

	// 批次号由记录ID确定性派生，重放同一笔打款不会产生新批次
	if gotReq.OutBatchNo != "PB000000000042" {
		t.Errorf("批次号错误: %s", gotReq.OutBatchNo)
	}
	if len(gotReq.TransferDetails) != 1 || gotReq.TransferDetails[0].OutDetailNo != "PD000000000042" {
		t.Errorf("明细号错误: %+v", gotReq.TransferDetails)
	}
	if gotReq.TransferDetails[0].OpenID != "openid-7" || gotReq.TransferDetails[0].TransferAmount != 12800 {
		t.Errorf("明细内容错误: %+v", gotReq.TransferDetails[0])
	}
	if batch.BatchStatus != TransferStateAccepted {
		t.Errorf("批次状态错误: %s", batch.BatchStatus)
	}
}

func TestGatewayErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":"SIGN_ERROR","message":"签名错误"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.QueryOrder(context.Background(), "ORD001")

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("应返回 GatewayError, got %v", err)
	}
	if gwErr.StatusCode != http.StatusForbidden {
		t.Errorf("状态码错误: %d", gwErr.StatusCode)
	}
	if !strings.Contains(gwErr.Body, "SIGN_ERROR") {
		t.Errorf("应保留网关原始响应: %s", gwErr.Body)
	}
}
