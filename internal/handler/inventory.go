package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/identity"
	"github.com/jmerrifield20/stockledger/internal/inventory"
)

// InventoryHandler exposes products, stock, sales and stock requests.
// Every mutation requires a user token; the token's principal signs the
// resulting ledger entry.
type InventoryHandler struct {
	svc    *inventory.Service
	logger *zap.Logger
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(svc *inventory.Service, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, logger: logger}
}

// Register mounts the inventory routes. guards run, in order, in front of
// every mutating route: authentication first, then e.g. idempotency.
func (h *InventoryHandler) Register(rg *gin.RouterGroup, guards ...gin.HandlerFunc) {
	mut := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(slices.Clone(guards), fn)
	}

	products := rg.Group("/products")
	{
		products.GET("", h.ListProducts)
		products.GET("/:id", h.GetProduct)
		products.POST("", mut(h.CreateProduct)...)
		products.PUT("/:id", mut(h.UpdateProduct)...)
		products.DELETE("/:id", mut(h.DeleteProduct)...)
	}

	stock := rg.Group("/stock")
	{
		stock.GET("", h.ListStock)
		stock.GET("/:id", h.GetStock)
		stock.POST("/:id/receive", mut(h.ReceiveStock)...)
	}

	sales := rg.Group("/sales")
	{
		sales.GET("", h.ListSales)
		sales.GET("/:id", h.GetSale)
		sales.POST("", mut(h.Checkout)...)
		sales.POST("/:id/payments", mut(h.RecordPayment)...)
	}

	requests := rg.Group("/stock-requests")
	{
		requests.GET("", h.ListStockRequests)
		requests.GET("/:id", h.GetStockRequest)
		requests.POST("", mut(h.RequestStock)...)
		requests.POST("/:id/verify", mut(h.VerifyStockRequest)...)
	}
}

// ── Products ─────────────────────────────────────────────────────────────

func (h *InventoryHandler) ListProducts(c *gin.Context) {
	limit, offset := pagination(c)
	products, err := h.svc.ListProducts(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *InventoryHandler) GetProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.svc.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var in inventory.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, e, err := h.svc.CreateProduct(c.Request.Context(), in, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": p, "ledger_entry": e})
}

func (h *InventoryHandler) UpdateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in inventory.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, e, err := h.svc.UpdateProduct(c.Request.Context(), id, in, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p, "ledger_entry": e})
}

func (h *InventoryHandler) DeleteProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	e, err := h.svc.DeleteProduct(c.Request.Context(), id, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id, "ledger_entry": e})
}

// ── Stock ────────────────────────────────────────────────────────────────

func (h *InventoryHandler) ListStock(c *gin.Context) {
	items, err := h.svc.ListStock(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": items})
}

func (h *InventoryHandler) GetStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	st, err := h.svc.GetStock(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type quantityRequest struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

func (h *InventoryHandler) ReceiveStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, e, err := h.svc.ReceiveStock(c.Request.Context(), id, req.Quantity, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": st, "ledger_entry": e})
}

// ── Sales ────────────────────────────────────────────────────────────────

func (h *InventoryHandler) ListSales(c *gin.Context) {
	limit, offset := pagination(c)
	sales, err := h.svc.ListSales(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (h *InventoryHandler) GetSale(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := h.svc.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *InventoryHandler) Checkout(c *gin.Context) {
	var in inventory.CheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, e, err := h.svc.Checkout(c.Request.Context(), in, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sale": s, "ledger_entry": e})
}

func (h *InventoryHandler) RecordPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Amount int64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, e, err := h.svc.RecordPayment(c.Request.Context(), id, req.Amount, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sale": s, "ledger_entry": e})
}

// ── Stock requests ───────────────────────────────────────────────────────

func (h *InventoryHandler) ListStockRequests(c *gin.Context) {
	status := inventory.StockRequestStatus(c.Query("status"))
	reqs, err := h.svc.ListStockRequests(c.Request.Context(), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if reqs == nil {
		reqs = []*inventory.StockRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"stock_requests": reqs})
}

func (h *InventoryHandler) GetStockRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sr, err := h.svc.GetStockRequest(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sr)
}

func (h *InventoryHandler) RequestStock(c *gin.Context) {
	var req struct {
		ProductID uuid.UUID `json:"product_id" binding:"required"`
		Quantity  int64     `json:"quantity"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sr, e, err := h.svc.RequestStock(c.Request.Context(), req.ProductID, req.Quantity, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stock_request": sr, "ledger_entry": e})
}

func (h *InventoryHandler) VerifyStockRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sr, e, err := h.svc.VerifyStockRequest(c.Request.Context(), id, identity.SignerFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock_request": sr, "ledger_entry": e})
}

// ── helpers ──────────────────────────────────────────────────────────────

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
