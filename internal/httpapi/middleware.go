package httpapi

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/metrics"
)

// HeaderRequestID: заголовок корреляции запроса.
const HeaderRequestID = "X-Request-ID"

const (
	ctxRequestIDKey = "request_id"
	ctxLoggerKey    = "logger"
	ctxPrincipalKey = "principal"
)

// Authenticator проверяет bearer-токен.
type Authenticator interface {
	Authenticate(token string) (domain.Principal, error)
}

// requestID берёт X-Request-ID клиента или выдаёт новый uuid.
func requestID(base *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestIDKey, id)
		c.Set(ctxLoggerKey, base.WithField("request_id", id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// recovery превращает панику обработчика в 500 в общем конверте.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				requestLogger(c).WithFields(log.Fields{
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("http handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, Envelope{
					Success:   false,
					Message:   "internal server error",
					Timestamp: time.Now().UTC(),
					Error:     &ErrorBody{Code: string(domain.KindInternal)},
				})
			}
		}()
		c.Next()
	}
}

// accessLog пишет строку на каждый запрос.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := requestLogger(c).WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// observeMetrics считает запросы по шаблону маршрута, а не по фактическому пути.
func observeMetrics(m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.Observe(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// authenticate требует заголовок Authorization: Bearer <token>.
func authenticate(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			fail(c, domain.Unauthorized("access token is required"))
			return
		}

		principal, err := auth.Authenticate(strings.TrimSpace(token))
		if err != nil {
			fail(c, err)
			return
		}

		c.Set(ctxPrincipalKey, principal)
		c.Set(ctxLoggerKey, requestLogger(c).WithField("user_id", principal.UserID))
		c.Next()
	}
}

// requireRole пропускает только указанную роль.
func requireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if principalOf(c).Role != role {
			fail(c, domain.Forbidden("this action requires role %s", role))
			return
		}
		c.Next()
	}
}

func principalOf(c *gin.Context) domain.Principal {
	if v, ok := c.Get(ctxPrincipalKey); ok {
		if p, ok := v.(domain.Principal); ok {
			return p
		}
	}
	return domain.Principal{}
}
