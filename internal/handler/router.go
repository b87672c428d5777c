package handler

import (
	"settlement/internal/config"
	"settlement/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gatewayClient *gateway.Client) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, gatewayClient)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 支付相关（notify 是网关回调入口，不走鉴权）
		pay := api.Group("/pay")
		{
			pay.POST("/charge", h.CreateCharge)
			pay.GET("/status", h.QueryPayStatus)
			pay.POST("/notify", h.PayNotify)
		}

		// 订单相关
		order := api.Group("/order")
		{
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
		}

		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
			account.GET("/reconcile", h.ReconcileBalance)
		}

		// 打款相关
		payout := api.Group("/payout")
		{
			payout.GET("/detail", h.GetPayout)
		}

		// 后台运维
		admin := api.Group("/admin")
		{
			admin.POST("/webhook/replay", h.ReplayFailedWebhooks)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
