package handler

import (
	"strconv"

	"settlement/internal/config"
	"settlement/internal/gateway"
	"settlement/internal/repository"
	"settlement/internal/service"
	"settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	paymentService *service.PaymentService
	webhookService *service.WebhookService
	orderRepo      *repository.OrderRepository
	payoutRepo     *repository.PayoutRepository
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gatewayClient *gateway.Client) *Handler {
	settleSvc := service.NewSettleService(db, cfg)
	return &Handler{
		accountService: service.NewAccountService(db),
		paymentService: service.NewPaymentService(db, rdb, cfg, gatewayClient, settleSvc),
		webhookService: service.NewWebhookService(db, cfg, settleSvc),
		orderRepo:      repository.NewOrderRepository(db),
		payoutRepo:     repository.NewPayoutRepository(db),
	}
}

// ============================================================
// 支付相关接口
// ============================================================

// CreateChargeRequest 下单请求
type CreateChargeRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
	Channel string `json:"channel" binding:"required,oneof=h5 native"` // 渠道由前端显式给出
}

// CreateCharge 向网关发起下单
// POST /api/v1/pay/charge
func (h *Handler) CreateCharge(c *gin.Context) {
	var req CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.paymentService.CreateCharge(
		c.Request.Context(),
		req.OrderNo,
		gateway.ChargeChannel(req.Channel),
		c.ClientIP(),
	)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// QueryPayStatus 查询订单支付状态（主动同步网关）
// GET /api/v1/pay/status?order_no=xxx
func (h *Handler) QueryPayStatus(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	status, err := h.paymentService.SyncOrderStatus(c.Request.Context(), orderNo)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, status)
}

// PayNotify 网关异步通知入口
// POST /api/v1/pay/notify
//
// 【关键点】无论内部处理结果如何都按网关协议应答，否则网关会无限重投。
// 处理失败的通知已落库标记，等待人工回放，不会丢
func (h *Handler) PayNotify(c *gin.Context) {
	raw, err := c.GetRawData()
	if err == nil {
		// 处理失败的通知已由服务层落库标记，等待人工回放，这里只应答
		_ = h.webhookService.HandleNotification(c.Request.Context(), raw)
	}

	response.GatewayAck(c)
}

// ============================================================
// 订单相关接口
// ============================================================

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	order, err := h.orderRepo.GetByOrderNo(c.Request.Context(), orderNo)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, order)
}

// ListOrders 查询用户订单列表
// GET /api/v1/order/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderRepo.ListByUserID(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id":           account.UserID,
		"balance":           account.Balance,
		"wh_coins":          account.Coins,
		"membership_end_at": account.MembershipEndAt,
	})
}

// ReconcileBalance 按流水核对账面余额（后台对账用）
// GET /api/v1/account/reconcile?user_id=xxx
func (h *Handler) ReconcileBalance(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	report, err := h.accountService.ReconcileBalance(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, report)
}

// ListTransactions 查询用户流水
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.accountService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 打款相关接口
// ============================================================

// GetPayout 查询打款记录（后台排障用）
// GET /api/v1/payout/detail?id=xxx
func (h *Handler) GetPayout(c *gin.Context) {
	idStr := c.Query("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	record, err := h.payoutRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, record)
}

// ============================================================
// 后台运维接口
// ============================================================

// ReplayFailedWebhooks 回放处理失败的网关通知
// POST /api/v1/admin/webhook/replay?limit=50
func (h *Handler) ReplayFailedWebhooks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		response.ParamError(c, "limit 参数错误")
		return
	}

	replayed, err := h.webhookService.ReplayFailed(c.Request.Context(), limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"replayed": replayed})
}
