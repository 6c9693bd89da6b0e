package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// maxRangeEntries bounds a single /ledger/entries response. Callers page
// with the returned "next" sequence.
const maxRangeEntries = 1000

// LedgerHandler exposes read-only HTTP endpoints for the ledger.
type LedgerHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l *ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries", h.ListEntries)
		l.GET("/entries/:ref", h.GetEntry)
		l.GET("/entries/:ref/verify", h.VerifyEntry)
	}
}

// Overview handles GET /ledger and returns the chain length and tail hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /ledger/verify?from=&to=. Integrity failures are a
// normal result and come back as 200 with valid=false.
func (h *LedgerHandler) Verify(c *gin.Context) {
	from, to, ok := rangeParams(c)
	if !ok {
		return
	}

	res, err := h.ledger.VerifyChain(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordVerification(res.Valid)
	if !res.Valid {
		h.logger.Warn("ledger integrity check failed",
			zap.Int64("at_sequence", res.AtSequence),
			zap.String("reason", res.Reason),
		)
	}
	c.JSON(http.StatusOK, res)
}

// ListEntries handles GET /ledger/entries?from=&to= and returns entries in
// sequence order.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	from, to, ok := rangeParams(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if to == ledger.ToTail {
		n, err := h.ledger.Len(ctx)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if n == 0 || from >= n {
			c.JSON(http.StatusOK, gin.H{"entries": []*ledger.Entry{}})
			return
		}
		to = n - 1
	}

	seq, err := h.ledger.GetRange(ctx, from, to)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	entries := make([]*ledger.Entry, 0)
	resp := gin.H{}
	for e, err := range seq {
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if len(entries) == maxRangeEntries {
			resp["next"] = e.Sequence
			break
		}
		entries = append(entries, e)
	}
	resp["entries"] = entries
	c.JSON(http.StatusOK, resp)
}

// GetEntry handles GET /ledger/entries/:ref, where ref is a sequence number
// or an entry hash.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	e, err := h.ledger.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// VerifyEntry handles GET /ledger/entries/:ref/verify and recomputes the
// hashes of a single entry.
func (h *LedgerHandler) VerifyEntry(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := h.ledger.Get(ctx, c.Param("ref"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	valid, err := h.ledger.VerifyEntry(ctx, e.Hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sequence": e.Sequence,
		"hash":     e.Hash,
		"valid":    valid,
	})
}

// rangeParams parses ?from= and ?to=. from defaults to 0, to to the tail.
func rangeParams(c *gin.Context) (from, to int64, ok bool) {
	from, to = 0, ledger.ToTail
	if s := c.Query("from"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a non-negative integer"})
			return 0, 0, false
		}
		from = v
	}
	if s := c.Query("to"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a non-negative integer"})
			return 0, 0, false
		}
		to = v
	}
	return from, to, true
}
