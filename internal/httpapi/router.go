// Package httpapi описывает REST-поверхность сервиса на gin: маршруты, middleware и
// единый конверт ответа.
package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/metrics"
	"github.com/vladislavdragonenkov/inventory/internal/service/auth"
	"github.com/vladislavdragonenkov/inventory/internal/service/catalog"
	"github.com/vladislavdragonenkov/inventory/internal/service/idempotency"
	"github.com/vladislavdragonenkov/inventory/internal/service/orders"
	"github.com/vladislavdragonenkov/inventory/internal/version"
)

// Deps: сервисы, которые обслуживает HTTP-слой.
type Deps struct {
	Auth    *auth.Service
	Catalog *catalog.Service
	Orders  *orders.Service
	// Guard может быть nil: тогда Idempotency-Key игнорируется.
	Guard   *idempotency.Guard
	Metrics *metrics.HTTPMetrics
	Logger  *log.Entry
}

var registerValidators sync.Once

// NewRouter собирает gin.Engine со всеми маршрутами /api.
func NewRouter(deps Deps) *gin.Engine {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("notblank", notBlank)
			v.RegisterTagNameFunc(fieldName)
		}
	})

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		requestID(logger),
		recovery(),
		otelgin.Middleware(version.ServiceName),
		accessLog(),
		observeMetrics(deps.Metrics),
	)
	r.NoRoute(func(c *gin.Context) {
		fail(c, domain.NotFound("route %s not found", c.Request.URL.Path))
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, domain.NewError(domain.KindBadRequest, "method %s is not allowed", c.Request.Method))
	})

	r.GET("/health", func(c *gin.Context) {
		respond(c, http.StatusOK, "ok", gin.H{"version": version.GetVersion()})
	})

	api := r.Group("/api")
	requireAuth := authenticate(deps.Auth)

	authH := &authHandler{auth: deps.Auth}
	authGroup := api.Group("/auth")
	authGroup.POST("/register", authH.register)
	authGroup.POST("/login", authH.login)
	authGroup.GET("/me", requireAuth, authH.me)

	productH := &productHandler{catalog: deps.Catalog}
	products := api.Group("/products", requireAuth, requireRole(domain.RoleAdmin))
	products.POST("", productH.create)
	products.GET("", productH.list)
	products.GET("/:id", productH.get)
	products.PUT("/:id", productH.update)
	products.DELETE("/:id", productH.delete)
	products.PATCH("/:id/add-stock", productH.addStock)
	products.PATCH("/:id/remove-stock", productH.removeStock)

	orderH := &orderHandler{orders: deps.Orders, guard: deps.Guard}
	ordersGroup := api.Group("/orders", requireAuth)
	ordersGroup.POST("", requireRole(domain.RoleClient), orderH.create)
	ordersGroup.GET("", orderH.list)
	ordersGroup.GET("/history", requireRole(domain.RoleClient), orderH.history)
	ordersGroup.GET("/:id", orderH.get)
	ordersGroup.PUT("/:id", orderH.update)
	ordersGroup.PATCH("/:id/cancel", orderH.cancel)
	ordersGroup.PATCH("/:id/complete", requireRole(domain.RoleAdmin), orderH.complete)

	return r
}

// fieldName называет поле так, как его видит клиент: по json- или form-тегу.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
