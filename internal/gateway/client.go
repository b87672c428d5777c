package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"
)

// ============================================================================
// 支付网关客户端
// ============================================================================
//
// 覆盖网关的四个操作：下单（H5/扫码）、订单查询、发起转账、转账批次查询。
// 本层只负责请求组装、签名和错误归一化，不做任何重试 —— 重试策略
// 属于监控任务，按条计数、有上限。
// ============================================================================

// GatewayError 网关返回非 2xx
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("网关返回异常: status=%d, body=%s", e.StatusCode, e.Body)
}

// ChargeChannel 下单渠道，由调用方显式指定，不做 UA 嗅探
type ChargeChannel string

const (
	ChannelH5     ChargeChannel = "h5"
	ChannelNative ChargeChannel = "native"
)

// 网关订单状态枚举
const (
	TradeStateSuccess = "SUCCESS"
	TradeStateNotPay  = "NOTPAY"
	TradeStateClosed  = "CLOSED"
	TradeStateRefund  = "REFUND"
	TradeStateError   = "PAYERROR"
)

// 转账批次状态枚举
const (
	TransferStateAccepted   = "ACCEPTED"
	TransferStateProcessing = "PROCESSING"
	TransferStateFinished   = "FINISHED"
	TransferStateClosed     = "CLOSED"
)

type Client struct {
	cfg        *config.GatewayConfig
	signer     *Signer
	httpClient *http.Client
}

func NewClient(cfg *config.GatewayConfig, signer *Signer) *Client {
	return &Client{
		cfg:    cfg,
		signer: signer,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// ChargeResult 下单结果：H5 返回跳转链接，扫码返回二维码串
type ChargeResult struct {
	H5URL    string `json:"h5_url,omitempty"`
	CodeURL  string `json:"code_url,omitempty"`
	PrepayID string `json:"prepay_id,omitempty"`
}

type amountBody struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type h5Info struct {
	Type string `json:"type"`
}

type sceneInfo struct {
	PayerClientIP string  `json:"payer_client_ip"`
	H5Info        *h5Info `json:"h5_info,omitempty"`
}

type chargeRequest struct {
	AppID       string     `json:"appid"`
	MchID       string     `json:"mchid"`
	Description string     `json:"description"`
	OutTradeNo  string     `json:"out_trade_no"`
	TimeExpire  string     `json:"time_expire"`
	NotifyURL   string     `json:"notify_url"`
	Amount      amountBody `json:"amount"`
	SceneInfo   *sceneInfo `json:"scene_info,omitempty"`
}

// CreateCharge 网关下单
//
// out_trade_no 固定取订单号，同一订单重复下单在网关侧幂等；
// time_expire 显式给出过期时间，用户放弃支付后订单在网关侧自动关闭
func (c *Client) CreateCharge(ctx context.Context, order *model.Order, channel ChargeChannel, payerIP string) (*ChargeResult, error) {
	req := &chargeRequest{
		AppID:       c.cfg.AppID,
		MchID:       c.cfg.MchID,
		Description: fmt.Sprintf("%s-%s", order.Kind, order.ProductID),
		OutTradeNo:  order.OrderNo,
		TimeExpire:  time.Now().Add(time.Duration(c.cfg.ChargeExpireMinutes) * time.Minute).Format(time.RFC3339),
		NotifyURL:   c.cfg.NotifyURL,
		Amount: amountBody{
			Total:    order.Amount,
			Currency: order.Currency,
		},
	}

	var path string
	switch channel {
	case ChannelH5:
		path = "/v3/pay/transactions/h5"
		req.SceneInfo = &sceneInfo{
			PayerClientIP: payerIP,
			H5Info:        &h5Info{Type: "Wap"},
		}
	case ChannelNative:
		path = "/v3/pay/transactions/native"
		if payerIP != "" {
			req.SceneInfo = &sceneInfo{PayerClientIP: payerIP}
		}
	default:
		return nil, fmt.Errorf("不支持的下单渠道: %s", channel)
	}

	respBody, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}

	result := &ChargeResult{}
	if err := json.Unmarshal(respBody, result); err != nil {
		return nil, fmt.Errorf("解析下单响应失败: %w", err)
	}
	return result, nil
}

// OrderStatus 网关订单查询结果
type OrderStatus struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        struct {
		Total int64 `json:"total"`
	} `json:"amount"`
}

// QueryOrder 按商户订单号查询网关订单状态
// GET 请求无包体，签名仍覆盖含查询参数的完整路径
func (c *Client) QueryOrder(ctx context.Context, outTradeNo string) (*OrderStatus, error) {
	path := fmt.Sprintf("/v3/pay/transactions/out-trade-no/%s?mchid=%s", outTradeNo, c.cfg.MchID)

	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	status := &OrderStatus{}
	if err := json.Unmarshal(respBody, status); err != nil {
		return nil, fmt.Errorf("解析订单查询响应失败: %w", err)
	}
	return status, nil
}

type transferDetail struct {
	OutDetailNo    string `json:"out_detail_no"`
	TransferAmount int64  `json:"transfer_amount"`
	TransferRemark string `json:"transfer_remark"`
	OpenID         string `json:"openid"`
}

type transferRequest struct {
	AppID           string           `json:"appid"`
	OutBatchNo      string           `json:"out_batch_no"`
	BatchName       string           `json:"batch_name"`
	BatchRemark     string           `json:"batch_remark"`
	TotalAmount     int64            `json:"total_amount"`
	TotalNum        int              `json:"total_num"`
	TransferDetails []transferDetail `json:"transfer_detail_list"`
}

// TransferBatch 转账批次状态
type TransferBatch struct {
	OutBatchNo  string `json:"out_batch_no"`
	BatchID     string `json:"batch_id"`
	BatchStatus string `json:"batch_status"`
	SuccessNum  int    `json:"success_num"`
	FailNum     int    `json:"fail_num"`
}

// CreateTransfer 发起佣金打款
//
// 批次号和明细号由打款记录ID确定性派生（PayoutRecord.BatchNo），
// 同一笔打款重复调用不会在网关侧产生重复转账
func (c *Client) CreateTransfer(ctx context.Context, record *model.PayoutRecord, remark string) (*TransferBatch, error) {
	req := &transferRequest{
		AppID:       c.cfg.AppID,
		OutBatchNo:  record.BatchNo(),
		BatchName:   remark,
		BatchRemark: remark,
		TotalAmount: record.Amount,
		TotalNum:    1,
		TransferDetails: []transferDetail{
			{
				OutDetailNo:    record.DetailNo(),
				TransferAmount: record.Amount,
				TransferRemark: remark,
				OpenID:         record.OpenID,
			},
		},
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v3/transfer/batches", req)
	if err != nil {
		return nil, err
	}

	batch := &TransferBatch{}
	if err := json.Unmarshal(respBody, batch); err != nil {
		return nil, fmt.Errorf("解析转账响应失败: %w", err)
	}
	return batch, nil
}

// QueryTransferBatch 按商户批次号查询转账批次状态
func (c *Client) QueryTransferBatch(ctx context.Context, outBatchNo string) (*TransferBatch, error) {
	path := fmt.Sprintf("/v3/transfer/batches/out-batch-no/%s?need_query_detail=false", outBatchNo)

	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	batch := &TransferBatch{}
	if err := json.Unmarshal(respBody, batch); err != nil {
		return nil, fmt.Errorf("解析转账批次查询响应失败: %w", err)
	}
	return batch, nil
}

// do 组装签名请求并归一化错误，非 2xx 一律转成 GatewayError
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyStr string
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyStr = string(payload)
	}

	auth, err := c.signer.AuthorizationHeader(method, path, bodyStr)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if bodyStr != "" {
		reader = bytes.NewReader([]byte(bodyStr))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)
	if bodyStr != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求网关失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取网关响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	return respBody, nil
}
