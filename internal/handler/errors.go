package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/inventory"
	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// respondError maps domain errors onto HTTP statuses. Persistence failures
// are reported as 503 with retryable=true so clients can try again, unless
// an inventory change already committed: repeating that request would apply
// the change twice, so it gets a non-retryable 500 naming the object.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var unaudited *inventory.UnauditedError
	switch {
	case errors.As(err, &unaudited):
		RecordUnaudited(unaudited.Action)
		logger.Error("inventory change committed without ledger entry",
			zap.String("action", string(unaudited.Action)),
			zap.String("object_id", unaudited.ObjectID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "change recorded but not audited",
			"object_id": unaudited.ObjectID,
			"action":    unaudited.Action,
			"retryable": false,
		})

	case errors.Is(err, ledger.ErrInvalidPayload),
		errors.Is(err, ledger.ErrInvalidSigner),
		errors.Is(err, ledger.ErrInvalidAction),
		errors.Is(err, ledger.ErrInvalidRange),
		errors.Is(err, inventory.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, inventory.ErrDuplicate), errors.Is(err, inventory.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, ledger.ErrPersistence):
		logger.Error("ledger persistence failure", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "ledger temporarily unavailable",
			"conflict":  ledger.IsConflict(err),
			"retryable": true,
		})

	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
