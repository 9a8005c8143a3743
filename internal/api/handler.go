package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"backoffice-service/internal/notify"
	"backoffice-service/internal/razorpay"
	"backoffice-service/internal/service"
	"backoffice-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxUploadBytes  = 10 << 20
	maxWebhookBytes = 1 << 20
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	dispatch      *service.DispatchImportService
	payments      *service.PaymentService
	counters      *service.CounterService
	identifiers   *service.IdentifierService
	registry      *notify.Registry
	clock         *util.Clock
	checks        map[string]ReadinessCheck
	upgrader      websocket.Upgrader
	wsSendTimeout time.Duration
	logger        *zap.Logger
}

// Deps bundles what the handler serves
type Deps struct {
	Dispatch      *service.DispatchImportService
	Payments      *service.PaymentService
	Counters      *service.CounterService
	Identifiers   *service.IdentifierService
	Registry      *notify.Registry
	Clock         *util.Clock
	Checks        map[string]ReadinessCheck
	WSSendTimeout time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		dispatch:    deps.Dispatch,
		payments:    deps.Payments,
		counters:    deps.Counters,
		identifiers: deps.Identifiers,
		registry:    deps.Registry,
		clock:       deps.Clock,
		checks:      deps.Checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		wsSendTimeout: deps.WSSendTimeout,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	dispatch := router.Group("/store-dispatch-import")
	{
		dispatch.POST("/import-csv-single-record", h.importDispatch)
		dispatch.GET("/latest", h.latestDispatch)
		dispatch.POST("/reset-counter", h.resetDispatchCounter)
	}

	payments := router.Group("/razorpay")
	{
		payments.POST("/create_qr/", h.createQR)
		payments.POST("/create_order/", h.createOrder)
		payments.POST("/webhook", h.webhook)
		payments.POST("/verify_payment", h.verifyPayment)
		payments.GET("/ws/:qr_id", h.paymentSocket)
		payments.GET("/payments/:method/:identifier", h.getPayment)
	}

	counters := router.Group("/counters/:name")
	{
		counters.GET("", h.peekCounter)
		counters.POST("/next", h.nextCounter)
		counters.POST("/next-gap-fill", h.nextCounterGapFill)
		counters.POST("/backfill", h.backfillCounter)
		counters.POST("/reset", h.resetCounter)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// importDispatch handles the store dispatch CSV upload
func (h *Handler) importDispatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Import Failed: file is required",
			"details": err.Error(),
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Import Failed: could not open upload",
			"details": err.Error(),
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Import Failed: could not read upload",
			"details": err.Error(),
		})
		return
	}

	result, err := h.dispatch.Import(c.Request.Context(), service.ImportRequest{
		Filename: fileHeader.Filename,
		Data:     data,
		Location: c.Query("location"),
		SentDate: c.Query("sentDate"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result.Summary)
}

// latestDispatch returns the newest dispatch in its wire shape
func (h *Handler) latestDispatch(c *gin.Context) {
	rec, err := h.dispatch.Latest(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.Wire(h.dispatch.FormatDate))
}

func (h *Handler) resetDispatchCounter(c *gin.Context) {
	if err := h.dispatch.ResetCounter(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Store dispatch counter reset"})
}

// createQR handles QR code creation
func (h *Handler) createQR(c *gin.Context) {
	amount, ok := parsePrice(c)
	if !ok {
		return
	}

	payload, err := h.payments.CreateQR(c.Request.Context(), amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// createOrder handles card order creation
func (h *Handler) createOrder(c *gin.Context) {
	amount, ok := parsePrice(c)
	if !ok {
		return
	}

	payload, err := h.payments.CreateCardOrder(c.Request.Context(), amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// webhook handles gateway callbacks; the raw body is what the signature covers
func (h *Handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(razorpay.SignatureHeader)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature"`
}

// verifyPayment handles checkout signature verification
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	status, err := h.payments.VerifyCard(c.Request.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// paymentSocket holds a websocket open until the outcome for qr_id arrives
// or the client goes away.
func (h *Handler) paymentSocket(c *gin.Context) {
	qrID := c.Param("qr_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("qr_id", qrID), zap.Error(err))
		return
	}

	ch := notify.NewWebSocketChannel(conn, h.wsSendTimeout)
	h.registry.Attach(qrID, ch)
	defer func() {
		h.registry.Detach(qrID, ch)
		_ = ch.Close()
	}()

	h.logger.Info("Client waiting for payment", zap.String("qr_id", qrID))
	if err := ch.Wait(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.Debug("WebSocket closed", zap.String("qr_id", qrID), zap.Error(err))
	}
}

func (h *Handler) getPayment(c *gin.Context) {
	p, err := h.payments.GetPayment(c.Request.Context(), c.Param("method"), c.Param("identifier"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) peekCounter(c *gin.Context) {
	name := c.Param("name")
	value, err := h.counters.Peek(c.Request.Context(), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value})
}

// nextCounter allocates and formats the next id. scope=day allocates from
// today's bucket in the business timezone.
func (h *Handler) nextCounter(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	var (
		id    string
		value int64
		err   error
	)
	if c.Query("scope") == "day" {
		id, value, err = h.identifiers.MintDateScoped(ctx, name, h.clock.Now())
	} else {
		id, value, err = h.identifiers.Allocate(ctx, name, false)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value, "id": id})
}

func (h *Handler) nextCounterGapFill(c *gin.Context) {
	name := c.Param("name")
	id, value, err := h.identifiers.Allocate(c.Request.Context(), name, true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value, "id": id})
}

func (h *Handler) backfillCounter(c *gin.Context) {
	name := c.Param("name")
	value, err := h.counters.BackfillFromMax(c.Request.Context(), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value})
}

func (h *Handler) resetCounter(c *gin.Context) {
	name := c.Param("name")
	if err := h.counters.Reset(c.Request.Context(), name); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": 0})
}

func parsePrice(c *gin.Context) (decimal.Decimal, bool) {
	raw := c.Query("price")
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid price",
			"details": "price must be a positive decimal, got " + strconv.Quote(raw),
		})
		return decimal.Decimal{}, false
	}
	return amount, true
}

// writeError maps a service error kind to its HTTP status
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)

	body := gin.H{"error": err.Error()}
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		body["error"] = svcErr.Message
		if svcErr.Err != nil {
			body["details"] = svcErr.Err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrBadRequest),
		errors.Is(err, service.ErrCatalogMismatch),
		errors.Is(err, service.ErrValidationFailure):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
