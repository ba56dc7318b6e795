// Package httpapi exposes the prediction service over HTTP.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yashubustudio/nutriscan/internal/auth"
	"yashubustudio/nutriscan/internal/ledger"
	"yashubustudio/nutriscan/internal/metrics"
	"yashubustudio/nutriscan/predictor"
)

// Predictor is the inference surface used by the handlers.
type Predictor interface {
	PredictFor(ctx context.Context, identity string, raw []byte) (predictor.PredictionResult, int64, error)
	Ready() bool
	State() predictor.State
}

// Records is the per-user result log.
type Records interface {
	ListFor(ctx context.Context, identity string) ([]ledger.VitaminRecord, error)
	Delete(ctx context.Context, identity string, id int64) error
}

// Authenticator registers users and verifies bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.User, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	ParseToken(raw string) (*auth.Claims, error)
}

// Deps wires the router.
type Deps struct {
	Predictor      Predictor
	Records        Records
	Auth           Authenticator
	Logger         *zap.Logger
	AllowedOrigins []string
	MaxUploadBytes int64
}

// NewRouter builds the gin engine with every route and middleware installed.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	h := &handlers{
		predictor: d.Predictor,
		records:   d.Records,
		auth:      d.Auth,
		logger:    d.Logger,
		maxUpload: d.MaxUploadBytes,
	}

	r := gin.New()
	r.Use(requestID(), accessLog(d.Logger), recovery(d.Logger), metrics.Middleware(), corsMiddleware(d.AllowedOrigins))

	r.GET("/", h.root)
	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.POST("/predict", optionalAuth(d.Auth), h.predict)

	authed := r.Group("")
	authed.Use(requireAuth(d.Auth))
	{
		authed.GET("/vitamins", h.listRecords)
		authed.DELETE("/vitamins/:id", h.deleteRecord)
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	return cors.New(cfg)
}
