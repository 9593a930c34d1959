package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
	"storefront-guard/internal/middleware"
)

const (
	// LoginScope é o escopo de rate limit do endpoint de login
	LoginScope = "auth.login"
)

// RateLimiter é o que os handlers usam do RateLimiterBundle
type RateLimiter interface {
	middleware.Evaluator
	Reset(ctx context.Context, identity domain.RequestIdentity, scope string) error
	Scopes() []string
	Config() domain.RateLimitConfig
	StoreName() string
}

// LoginGuard é o que os handlers usam da proteção contra força bruta
type LoginGuard interface {
	RecordFailure(ctx context.Context, identifier string) (domain.FailureVerdict, error)
	ApplyDelay(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
	Unlock(ctx context.Context, identifier string) error
	Status(ctx context.Context, identifier string) (domain.BruteForceRecord, bool, error)
	Verdict(ctx context.Context, identifier string) (domain.FailureVerdict, error)
	Config() domain.BruteForceConfig
}

// EventLog expõe os eventos de segurança recentes
type EventLog interface {
	Recent() []domain.SecurityEvent
}

// Deps são as dependências dos handlers
type Deps struct {
	RateLimiter   RateLimiter
	LoginGuard    LoginGuard
	Authenticator Authenticator
	Captcha       CaptchaVerifier
	Events        EventLog
	Metrics       http.Handler
	Bypass        middleware.BypassPredicate
	Logger        domain.Logger
}

// Handlers contém os handlers da API
type Handlers struct {
	limiter   RateLimiter
	guard     LoginGuard
	auth      Authenticator
	captcha   CaptchaVerifier
	events    EventLog
	metrics   http.Handler
	bypass    middleware.BypassPredicate
	logger    domain.Logger
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(deps Deps) *Handlers {
	l := deps.Logger
	if l == nil {
		l = logger.Nop()
	}
	bypass := deps.Bypass
	if bypass == nil {
		bypass = middleware.NeverBypass
	}
	captcha := deps.Captcha
	if captcha == nil {
		captcha = NewSharedSecretCaptcha("")
	}

	return &Handlers{
		limiter:   deps.RateLimiter,
		guard:     deps.LoginGuard,
		auth:      deps.Authenticator,
		captcha:   captcha,
		events:    deps.Events,
		metrics:   deps.Metrics,
		bypass:    bypass,
		logger:    l,
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Rotas públicas (sem rate limiting)
	router.GET("/health", h.HealthHandler)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	// Rotas protegidas por rate limiting
	router.GET("/", middleware.NewRateLimiterMiddleware(h.limiter, domain.GlobalScope, h.logger, h.bypass), h.ExampleHandler)

	auth := router.Group("/auth")
	auth.Use(middleware.NewRateLimiterMiddleware(h.limiter, LoginScope, h.logger, h.bypass))
	{
		auth.POST("/login", h.LoginHandler)
	}

	// Rotas administrativas: só requisições internas
	admin := router.Group("/admin")
	admin.Use(h.requireInternal)
	{
		admin.GET("/status", h.AdminStatusHandler)
		admin.POST("/ratelimit/reset", h.AdminResetRateLimitHandler)
		admin.GET("/bruteforce/status", h.AdminBruteForceStatusHandler)
		admin.POST("/bruteforce/unlock", h.AdminUnlockHandler)
		admin.GET("/events", h.AdminEventsHandler)
	}
}

// HealthHandler implementa health check básico
func (h *Handlers) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "Storefront Guard",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"store":     h.limiter.StoreName(),
	})
}

// ExampleHandler implementa um endpoint de exemplo protegido pelo limiter global
func (h *Handlers) ExampleHandler(c *gin.Context) {
	response := gin.H{
		"message":   "Hello from Storefront Guard!",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"client_ip": c.ClientIP(),
	}
	if value, ok := c.Get(middleware.DecisionContextKey); ok {
		if decision, ok := value.(domain.Decision); ok {
			response["remaining"] = decision.Remaining
		}
	}
	c.JSON(http.StatusOK, response)
}

// requireInternal rejeita requisições administrativas não internas
func (h *Handlers) requireInternal(c *gin.Context) {
	if !h.bypass(c.Request) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "admin endpoints require an internal request",
		})
		return
	}
	c.Next()
}

// AdminStatusHandler retorna a configuração efetiva e o runtime
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rateLimit := h.limiter.Config()
	bruteForce := h.guard.Config()
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
		"rate_limit": gin.H{
			"enabled":                rateLimit.Enabled,
			"store":                  h.limiter.StoreName(),
			"points":                 rateLimit.Points,
			"duration_seconds":       rateLimit.DurationSeconds,
			"block_duration_seconds": rateLimit.BlockDurationSeconds,
			"scopes":                 h.limiter.Scopes(),
		},
		"brute_force": gin.H{
			"enabled":           bruteForce.Enabled,
			"window_seconds":    bruteForce.WindowSeconds,
			"captcha_threshold": bruteForce.CaptchaThreshold,
			"lockout_threshold": bruteForce.LockoutThreshold,
			"delays":            bruteForce.ProgressiveDelays,
		},
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": m.Alloc,
		},
	})
}

// AdminResetRateLimitRequest representa o corpo do reset de rate limit
type AdminResetRateLimitRequest struct {
	Scope string `json:"scope"`
	IP    string `json:"ip" binding:"required"`
}

// AdminResetRateLimitHandler zera o contador de um IP num escopo
func (h *Handlers) AdminResetRateLimitHandler(c *gin.Context) {
	var req AdminResetRateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Scope == "" {
		req.Scope = domain.GlobalScope
	}

	ctx := c.Request.Context()
	if err := h.limiter.Reset(ctx, domain.RequestIdentity{IP: req.IP}, req.Scope); err != nil {
		h.logger.WithContext(ctx).Error("Failed to reset rate limit", err, map[string]interface{}{
			"scope": req.Scope,
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to reset rate limit",
		})
		return
	}

	h.logger.WithContext(ctx).Info("Rate limit reset", map[string]interface{}{
		"scope": req.Scope,
		"ip":    req.IP,
	})
	c.JSON(http.StatusOK, gin.H{"message": "rate limit reset", "scope": req.Scope, "ip": req.IP})
}

// AdminBruteForceStatusHandler retorna o registro de um identificador
func (h *Handlers) AdminBruteForceStatusHandler(c *gin.Context) {
	identifier := c.Query("identifier")
	if identifier == "" {
		validationError(c, "identifier parameter is required")
		return
	}

	record, found, err := h.guard.Status(c.Request.Context(), identifier)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Failed to read brute force status", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to retrieve brute force status",
		})
		return
	}

	cfg := h.guard.Config()
	c.JSON(http.StatusOK, gin.H{
		"identifier":       logger.MaskIdentifier(record.Identifier),
		"found":            found,
		"attempts":         record.Attempts,
		"captcha_required": found && record.Attempts >= cfg.CaptchaThreshold,
		"locked":           found && cfg.LockoutThreshold > 0 && record.Attempts >= cfg.LockoutThreshold,
		"first_failure_at": record.FirstFailureAt,
		"window_expires":   record.WindowExpiresAt,
	})
}

// AdminUnlockRequest representa o corpo do desbloqueio manual
type AdminUnlockRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// AdminUnlockHandler executa o desbloqueio manual de um identificador
func (h *Handlers) AdminUnlockHandler(c *gin.Context) {
	var req AdminUnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "Invalid request body: "+err.Error())
		return
	}

	if err := h.guard.Unlock(c.Request.Context(), req.Identifier); err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Failed to unlock identifier", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Failed to unlock identifier",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "identifier unlocked"})
}

// AdminEventsHandler lista os eventos de segurança recentes
func (h *Handlers) AdminEventsHandler(c *gin.Context) {
	events := []domain.SecurityEvent{}
	if h.events != nil {
		events = h.events.Recent()
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func validationError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": message,
	})
}
