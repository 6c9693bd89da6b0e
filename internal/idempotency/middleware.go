package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderKey is the request header carrying the client's key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplayed is set on responses served from the store.
	HeaderReplayed = "Idempotent-Replayed"

	DefaultMaxKeyLength = 255
	DefaultLockTimeout  = time.Minute
	DefaultTTL          = 24 * time.Hour
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config configures Middleware.
type Config struct {
	Store       Store
	TTL         time.Duration
	LockTimeout time.Duration
	// Scope namespaces keys, typically by the authenticated principal, so
	// two users cannot collide on the same key.
	Scope func(*gin.Context) string
	// OnReplay is called whenever a stored response is served.
	OnReplay func()
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware returns a Gin middleware for mutating routes. Requests without
// an Idempotency-Key pass straight through. With a key:
//   - a completed key replays the stored status and body;
//   - a key still being processed answers 409;
//   - a key reused with a different body answers 422.
//
// 503 responses are not stored, since nothing was applied and the client is
// told to retry.
func Middleware(cfg Config, logger *zap.Logger) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > DefaultMaxKeyLength || !keyPattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid Idempotency-Key"})
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		scope := ""
		if cfg.Scope != nil {
			scope = cfg.Scope(c)
		}
		now := time.Now().UTC()
		rec := &Record{
			Key:         scope + "|" + c.Request.Method + " " + c.Request.URL.Path + "|" + key,
			Fingerprint: fingerprint(body),
			LockedAt:    now,
			ExpiresAt:   now.Add(cfg.TTL),
		}

		ctx := c.Request.Context()
		cur, owned, err := cfg.Store.Acquire(ctx, rec, cfg.LockTimeout)
		if err != nil {
			logger.Error("idempotency: acquire", zap.String("key", key), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":     "idempotency storage temporarily unavailable",
				"retryable": true,
			})
			return
		}

		if !owned {
			switch {
			case cur.Fingerprint != rec.Fingerprint:
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
					"error": "Idempotency-Key was already used with a different request body",
				})
			case cur.IsCompleted():
				if cfg.OnReplay != nil {
					cfg.OnReplay()
				}
				logger.Debug("idempotency: replay", zap.String("key", key), zap.Int("status", cur.Status))
				c.Header(HeaderReplayed, "true")
				c.Data(cur.Status, "application/json; charset=utf-8", cur.Body)
				c.Abort()
			default:
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "a request with this Idempotency-Key is still being processed",
				})
			}
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// The request context may already be cancelled; the outcome must
		// still be stored.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if w.Status() == http.StatusServiceUnavailable {
			if err := cfg.Store.Release(sctx, rec.Key); err != nil {
				logger.Warn("idempotency: release", zap.String("key", key), zap.Error(err))
			}
			return
		}
		if err := cfg.Store.Complete(sctx, rec.Key, w.Status(), w.body.Bytes()); err != nil {
			logger.Error("idempotency: store response", zap.String("key", key), zap.Error(err))
		}
	}
}

// Sweep removes expired records every interval until ctx is done.
func Sweep(ctx context.Context, s Store, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Clean(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("idempotency: clean", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("idempotency: cleaned expired keys", zap.Int64("count", n))
			}
		}
	}
}

func fingerprint(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}
