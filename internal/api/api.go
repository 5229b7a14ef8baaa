package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"itemprice/internal/export"
	"itemprice/internal/ingest"
	"itemprice/internal/models"
	"itemprice/internal/pricing"
)

// Pricing is the slice of the orchestrator the handlers use.
type Pricing interface {
	RunBatch(ctx context.Context, params pricing.BatchParams) (*pricing.BatchResult, error)
	QueueDepth(ctx context.Context) (pricing.QueueStats, error)
	ResetHistory(ctx context.Context) (int64, error)
	FindItem(ctx context.Context, itemID *int64, name, imageID string) (*models.CatalogItem, error)
	CurrentPrice(ctx context.Context, itemInternalID uint) (*models.TrustedPrice, error)
	PriceHistory(ctx context.Context, itemInternalID uint) ([]models.TrustedPrice, error)
}

// Submitter queues raw reports.
type Submitter interface {
	Submit(ctx context.Context, sub ingest.Submission, ip string) (int64, error)
}

type Options struct {
	APIKey        string
	IngestRate    float64
	IngestBurst   int
	BatchDeadline time.Duration
}

type APIHandler struct {
	pricing  Pricing
	ingest   Submitter
	apiKey   string
	limiters *ipLimiter
	deadline time.Duration
}

func SetupRoutes(r *gin.RouterGroup, p Pricing, s Submitter, opts Options) *APIHandler {
	handler := &APIHandler{
		pricing:  p,
		ingest:   s,
		apiKey:   opts.APIKey,
		limiters: newIPLimiter(rate.Limit(opts.IngestRate), opts.IngestBurst),
		deadline: opts.BatchDeadline,
	}
	if handler.deadline <= 0 {
		handler.deadline = 10 * time.Minute
	}

	prices := r.Group("/prices")
	{
		prices.POST("", handler.rateLimit(), handler.SubmitReports)
		prices.GET("", handler.GetPriceHistory)
		prices.GET("/current", handler.GetCurrentPrice)
		prices.GET("/export", handler.ExportPriceHistory)

		prices.GET("/process", handler.GetQueueDepth)
		prices.POST("/process", handler.requireKey(), handler.RunBatch)
		prices.DELETE("/process", handler.requireKey(), handler.ResetHistory)
	}

	return handler
}

// requireKey checks the shared secret in the Authorization header. Both the
// bare key and "Bearer <key>" are accepted.
func (h *APIHandler) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
		if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *APIHandler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.limiters.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (h *APIHandler) SubmitReports(c *gin.Context) {
	var sub ingest.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	accepted, err := h.ingest.Submit(c.Request.Context(), sub, c.ClientIP())
	if err != nil {
		zap.L().Error("submit reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// GetQueueDepth reports the pending work. totalQueue counts the name groups
// eligible for the next batch; largestGroup is the report count of the biggest
// of those groups.
func (h *APIHandler) GetQueueDepth(c *gin.Context) {
	stats, err := h.pricing.QueueDepth(c.Request.Context())
	if err != nil {
		zap.L().Error("queue depth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalQueue": stats.Groups, "largestGroup": stats.LargestGroup})
}

// batchRequest mirrors pricing.BatchParams but tolerates missing fields.
type batchRequest struct {
	Limit        *int `json:"limit"`
	GroupByLimit *int `json:"groupByLimit"`
	Page         *int `json:"page"`
}

func (b batchRequest) params() pricing.BatchParams {
	var p pricing.BatchParams
	if b.Limit != nil {
		p.Limit = *b.Limit
	}
	if b.GroupByLimit != nil {
		p.GroupLimit = *b.GroupByLimit
	}
	if b.Page != nil {
		p.Page = *b.Page
	}
	return p
}

func (h *APIHandler) RunBatch(c *gin.Context) {
	var req batchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deadline)
	defer cancel()
	res, err := h.pricing.RunBatch(ctx, req.params())
	if err != nil {
		zap.L().Error("batch run failed", zap.Error(err))
		body := gin.H{"error": "batch aborted"}
		if res != nil {
			body["result"] = res
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) ResetHistory(c *gin.Context) {
	n, err := h.pricing.ResetHistory(c.Request.Context())
	if err != nil {
		zap.L().Error("reset history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletedCount": n})
}

// PricePoint is the public shape of a history entry.
type PricePoint struct {
	Value    int64  `json:"value"`
	AddedAt  string `json:"addedAt"`
	Inflated bool   `json:"inflated"`
}

func toPricePoint(p models.TrustedPrice) PricePoint {
	return PricePoint{
		Value:    p.Price,
		AddedAt:  p.AddedAt.UTC().Format(time.RFC3339),
		Inflated: p.Inflated(),
	}
}

// resolveItem reads item_id or name+image_id from the query string. It writes
// the error response itself and returns nil in that case.
func (h *APIHandler) resolveItem(c *gin.Context) *models.CatalogItem {
	var itemID *int64
	if raw := c.Query("item_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item_id"})
			return nil
		}
		itemID = &id
	}
	name, imageID := c.Query("name"), c.Query("image_id")
	if itemID == nil && (name == "" || imageID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id or name and image_id required"})
		return nil
	}

	item, err := h.pricing.FindItem(c.Request.Context(), itemID, name, imageID)
	if err != nil {
		zap.L().Error("find item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to find item"})
		return nil
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return nil
	}
	return item
}

func (h *APIHandler) GetPriceHistory(c *gin.Context) {
	item := h.resolveItem(c)
	if item == nil {
		return
	}
	history, err := h.pricing.PriceHistory(c.Request.Context(), item.ID)
	if err != nil {
		zap.L().Error("price history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}
	out := make([]PricePoint, 0, len(history))
	for _, p := range history {
		out = append(out, toPricePoint(p))
	}
	c.JSON(http.StatusOK, out)
}

func (h *APIHandler) GetCurrentPrice(c *gin.Context) {
	item := h.resolveItem(c)
	if item == nil {
		return
	}
	p, err := h.pricing.CurrentPrice(c.Request.Context(), item.ID)
	if err != nil {
		zap.L().Error("current price", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch price"})
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, toPricePoint(*p))
}

func (h *APIHandler) ExportPriceHistory(c *gin.Context) {
	item := h.resolveItem(c)
	if item == nil {
		return
	}
	history, err := h.pricing.PriceHistory(c.Request.Context(), item.ID)
	if err != nil {
		zap.L().Error("price history export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}
	filename := fmt.Sprintf("prices-%d.xlsx", item.ID)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := export.WritePriceHistory(c.Writer, *item, history); err != nil {
		zap.L().Error("write xlsx", zap.Error(err))
	}
}

// limiterIdle is how long a client address may stay silent before its bucket
// is dropped.
const limiterIdle = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// ipLimiter keeps one token bucket per client address and sweeps idle ones.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	buckets   map[string]*bucket
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:     limit,
		burst:     burst,
		idle:      limiterIdle,
		now:       time.Now,
		lastSweep: time.Now(),
		buckets:   make(map[string]*bucket),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) >= l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
