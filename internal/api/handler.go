package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"pos-sync/internal/connectivity"
	"pos-sync/internal/models"
	"pos-sync/internal/notify"
	"pos-sync/internal/queue"
	"pos-sync/internal/service"
	"pos-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SignalSetter is a connectivity signal the till can drive
type SignalSetter interface {
	Set(online bool)
}

// Handler contains HTTP handlers
type Handler struct {
	store        *queue.OfflineStore
	orchestrator *service.SyncOrchestrator
	oracle       *connectivity.Oracle
	manual       SignalSetter
	toasts       *notify.Stream
}

// NewHandler creates a new HTTP handler. manual and toasts may be nil.
func NewHandler(
	store *queue.OfflineStore,
	orchestrator *service.SyncOrchestrator,
	oracle *connectivity.Oracle,
	manual SignalSetter,
	toasts *notify.Stream,
) *Handler {
	return &Handler{
		store:        store,
		orchestrator: orchestrator,
		oracle:       oracle,
		manual:       manual,
		toasts:       toasts,
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

	v1 := router.Group("/api/v1")
	{
		v1.POST("/offline/transactions", h.queueTransaction)
		v1.GET("/offline/transactions", h.listTransactions)
		v1.DELETE("/offline/transactions/:localId", h.removeTransaction)

		v1.POST("/offline/inventory-updates", h.queueInventoryUpdate)
		v1.GET("/offline/inventory-updates", h.listInventoryUpdates)
		v1.DELETE("/offline/inventory-updates/:localId", h.removeInventoryUpdate)

		v1.GET("/offline/inventory-overrides", h.inventoryOverrides)
		v1.DELETE("/offline", h.clearAll)

		v1.GET("/sync/status", h.syncStatus)
		v1.POST("/sync", h.forceSync)
		v1.GET("/sync/events", h.syncEvents)

		v1.GET("/connectivity", h.getConnectivity)
		v1.PUT("/connectivity", h.setConnectivity)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the offline store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// queueTransaction stores a sale the till could not submit live
func (h *Handler) queueTransaction(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || !isJSONObject(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	rec, err := h.store.QueueTransaction(c.Request.Context(), models.Sale(raw))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to queue transaction",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) listTransactions(c *gin.Context) {
	records, err := h.store.Transactions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read queue",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "count": len(records)})
}

func (h *Handler) removeTransaction(c *gin.Context) {
	h.remove(c, h.store.Transactions.Remove)
}

// queueInventoryUpdate stores a stock delta and applies it to the local overrides
func (h *Handler) queueInventoryUpdate(c *gin.Context) {
	var delta models.InventoryDelta
	if err := c.ShouldBindJSON(&delta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rec, err := h.store.QueueInventoryUpdate(c.Request.Context(), delta)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to queue inventory update",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) listInventoryUpdates(c *gin.Context) {
	records, err := h.store.InventoryUpdates.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read queue",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "count": len(records)})
}

func (h *Handler) removeInventoryUpdate(c *gin.Context) {
	h.remove(c, h.store.InventoryUpdates.Remove)
}

func (h *Handler) inventoryOverrides(c *gin.Context) {
	overrides, err := h.store.InventoryOverrides(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read local inventory",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, overrides)
}

// clearAll is the explicit user reset
func (h *Handler) clearAll(c *gin.Context) {
	if err := h.store.ClearAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to clear offline data",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *Handler) syncStatus(c *gin.Context) {
	status, err := h.orchestrator.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read sync status",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// forceSync handles the manual sync button
func (h *Handler) forceSync(c *gin.Context) {
	result, err := h.orchestrator.ForceSync(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrOffline):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSyncInProgress):
		c.JSON(http.StatusConflict, result)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case !result.Success:
		c.JSON(http.StatusInternalServerError, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

// syncEvents streams status, mode and toast events to the till as SSE
func (h *Handler) syncEvents(c *gin.Context) {
	type sse struct {
		name string
		data any
	}
	events := make(chan sse, 64)
	offer := func(name string, data any) {
		// Subscribers run on the drain path; a slow client drops events rather than stalling it.
		select {
		case events <- sse{name: name, data: data}:
		default:
		}
	}

	unsubscribeStatus := h.orchestrator.Subscribe(func(e models.StatusEvent) { offer("syncStatus", e) })
	defer unsubscribeStatus()
	unsubscribeMode := h.oracle.OnChange(func(m models.ModeChange) { offer(models.BroadcastOfflineModeChanged, m) })
	defer unsubscribeMode()
	if h.toasts != nil {
		unsubscribeToasts := h.toasts.Subscribe(func(n notify.Notification) { offer("notification", n) })
		defer unsubscribeToasts()
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-events:
			c.SSEvent(e.name, e.data)
			return true
		}
	})
}

func (h *Handler) getConnectivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.connectivityState())
}

// setConnectivity lets the till report its own online/offline transitions
func (h *Handler) setConnectivity(c *gin.Context) {
	if h.manual == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Connectivity is detected from network interfaces",
		})
		return
	}

	var req struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.manual.Set(*req.Online)
	// The till waits for the verified mode; a dropped request must not read as offline.
	h.oracle.Evaluate(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, h.connectivityState())
}

func (h *Handler) connectivityState() gin.H {
	return gin.H{
		"isOffline":    h.oracle.IsOffline(),
		"signalOnline": h.oracle.SignalOnline(),
	}
}

func (h *Handler) remove(c *gin.Context, remove func(ctx context.Context, localID string) (bool, error)) {
	removed, err := remove(c.Request.Context(), c.Param("localId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to update queue",
			"details": err.Error(),
		})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func isJSONObject(raw []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
