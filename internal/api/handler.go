package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderUseCase is the order surface the handlers drive
type OrderUseCase interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.OrderResult, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
	ListOrders(ctx context.Context, customerID *int64) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, rawStatus string) (*models.Order, error)
	AvailVoucher(ctx context.Context, voucherID, customerID, orderID int64) (*models.Voucher, error)
}

type VoucherUseCase interface {
	Create(ctx context.Context, in service.CreateVoucherInput) (*models.Voucher, error)
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	List(ctx context.Context, availed *bool) ([]models.Voucher, error)
	Delete(ctx context.Context, id int64) error
}

type AggregateReader interface {
	Get(ctx context.Context, customerID int64) (*models.CustomerAggregate, error)
}

type Reconciler interface {
	Run(ctx context.Context) (*service.ReconcileReport, error)
}

// Pinger reports whether a dependency is reachable
type Pinger func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orders     OrderUseCase
	vouchers   VoucherUseCase
	aggregates AggregateReader
	reconciler Reconciler
	checks     map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are run by the readiness probe.
func NewHandler(orders OrderUseCase, vouchers VoucherUseCase, aggregates AggregateReader, reconciler Reconciler, checks map[string]Pinger) *Handler {
	return &Handler{
		orders:     orders,
		vouchers:   vouchers,
		aggregates: aggregates,
		reconciler: reconciler,
		checks:     checks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, corsOrigins []string) {
	router.Use(gin.CustomRecovery(func(c *gin.Context, _ any) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))
	router.Use(corsMiddleware(corsOrigins))
	router.Use(tracingMiddleware())
	router.Use(requestContextMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/orders", h.createOrder)
	router.GET("/orders", h.listOrders)
	router.GET("/orders/:id", h.getOrder)
	router.PATCH("/orders/:id", h.updateOrderStatus)

	router.POST("/vouchers", h.createVoucher)
	router.GET("/vouchers", h.listVouchers)
	router.GET("/vouchers/code/:code", h.getVoucherByCode)
	router.PATCH("/vouchers/:id/avail", h.availVoucher)
	router.DELETE("/vouchers/:id", h.deleteVoucher)

	router.GET("/customers/:id/aggregate", h.getAggregate)

	admin := router.Group("/admin")
	{
		admin.POST("/reconcile", h.reconcile)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not ready",
			"dependencies": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError renders err as {"error": msg} with the status its kind maps to
func (h *Handler) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"order": result.Order,
		"items": result.Items,
	})
}

func (h *Handler) listOrders(c *gin.Context) {
	var customerID *int64
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "userId must be numeric")
			return
		}
		customerID = &id
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), customerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		badRequest(c, "invalid order id")
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []models.OrderItem{}
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		badRequest(c, "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) createVoucher(c *gin.Context) {
	var req service.CreateVoucherInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	v, err := h.vouchers.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"voucher": v})
}

func (h *Handler) listVouchers(c *gin.Context) {
	var availed *bool
	if raw := c.Query("availed"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "availed must be true or false")
			return
		}
		availed = &b
	}

	vouchers, err := h.vouchers.List(c.Request.Context(), availed)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if vouchers == nil {
		vouchers = []models.Voucher{}
	}
	c.JSON(http.StatusOK, gin.H{"vouchers": vouchers})
}

func (h *Handler) getVoucherByCode(c *gin.Context) {
	v, err := h.vouchers.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voucher": v})
}

type availVoucherRequest struct {
	UserID  json.RawMessage `json:"userId"`
	OrderID int64           `json:"orderId"`
}

func (h *Handler) availVoucher(c *gin.Context) {
	voucherID, ok := pathID(c)
	if !ok {
		badRequest(c, "invalid voucher id")
		return
	}

	var req availVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	customerID, err := service.ParseCustomerID(req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if req.OrderID <= 0 {
		badRequest(c, "orderId is required")
		return
	}

	v, err := h.orders.AvailVoucher(c.Request.Context(), voucherID, customerID, req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voucher": v})
}

func (h *Handler) deleteVoucher(c *gin.Context) {
	voucherID, ok := pathID(c)
	if !ok {
		badRequest(c, "invalid voucher id")
		return
	}

	if err := h.vouchers.Delete(c.Request.Context(), voucherID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) getAggregate(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		badRequest(c, "invalid customer id")
		return
	}

	agg, err := h.aggregates.Get(c.Request.Context(), customerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aggregate": agg})
}

// reconcile runs one reconciliation pass synchronously and returns its report
func (h *Handler) reconcile(c *gin.Context) {
	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
