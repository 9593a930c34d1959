package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
)

const (
	// DecisionContextKey guarda a decisão no gin.Context para os handlers
	DecisionContextKey = "rate_limit_decision"
	// RequestIDHeader é propagado ou gerado pelo middleware
	RequestIDHeader = "X-Request-ID"
)

// Evaluator é o contrato de entrada do rate limiter consumido pelo middleware
type Evaluator interface {
	Evaluate(ctx context.Context, identity domain.RequestIdentity, scope string) (domain.Decision, error)
	Policy(scope string) domain.RateLimitPolicy
}

// BypassPredicate decide se a requisição é interna e confiável
type BypassPredicate func(r *http.Request) bool

// HeaderBypass confia num header com valor esperado. Não há verificação
// criptográfica: só deve ser usado atrás de um proxy que remova o header.
func HeaderBypass(header, expected string) BypassPredicate {
	return func(r *http.Request) bool {
		if header == "" || expected == "" {
			return false
		}
		value := r.Header.Get(header)
		return value != "" && subtle.ConstantTimeCompare([]byte(value), []byte(expected)) == 1
	}
}

// NeverBypass nunca marca requisições como internas
func NeverBypass(*http.Request) bool {
	return false
}

// RateLimiterMiddleware aplica um escopo do rate limiter a uma rota
type RateLimiterMiddleware struct {
	evaluator Evaluator
	scope     string
	logger    domain.Logger
	bypass    BypassPredicate
}

// NewRateLimiterMiddleware cria o middleware de um escopo
func NewRateLimiterMiddleware(
	evaluator Evaluator,
	scope string,
	l domain.Logger,
	bypass BypassPredicate,
) gin.HandlerFunc {
	if bypass == nil {
		bypass = NeverBypass
	}
	if l == nil {
		l = logger.Nop()
	}

	middleware := &RateLimiterMiddleware{
		evaluator: evaluator,
		scope:     scope,
		logger:    l,
		bypass:    bypass,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *RateLimiterMiddleware) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	requestID := RequestID(c)
	clientIP := c.ClientIP()
	ctx = logger.ContextWithRequestInfo(ctx, requestID, clientIP, m.scope, c.GetHeader("User-Agent"))
	log := m.logger.WithContext(ctx)

	identity := domain.RequestIdentity{
		IP:            clientIP,
		CorrelationID: requestID,
		Internal:      m.bypass(c.Request),
	}

	decision, err := m.evaluator.Evaluate(ctx, identity, m.scope)
	if err != nil {
		if domain.IsQuotaExceeded(err) {
			// O próprio store está limitando: falha fechada
			log.Warn("Counter store quota exceeded", map[string]interface{}{
				"error": err.Error(),
				"scope": m.scope,
			})
			m.reject(c, domain.Rejection{
				Code:              domain.CodeRateLimitExceeded,
				RetryAfterSeconds: m.evaluator.Policy(m.scope).DurationSeconds,
				Scope:             m.scope,
			})
			return
		}

		// Falha de transporte não pode bloquear tráfego legítimo
		log.Error("Rate limiter evaluation failed, allowing request", err, map[string]interface{}{
			"scope": m.scope,
		})
		c.Next()
		return
	}

	c.Set(DecisionContextKey, decision)
	setRateLimitHeaders(c, decision)

	if !decision.Allowed {
		m.reject(c, decision.Rejection())
		return
	}

	if decision.Bypassed {
		log.Debug("Rate limiter bypassed for internal request", map[string]interface{}{
			"scope": m.scope,
		})
	}

	c.Next()
}

// reject responde 429 com o corpo estruturado e o Retry-After
func (m *RateLimiterMiddleware) reject(c *gin.Context, rejection domain.Rejection) {
	WriteRejection(c, rejection)
	c.Abort()
}

// WriteRejection escreve a resposta 429 padronizada
func WriteRejection(c *gin.Context, rejection domain.Rejection) {
	if rejection.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(rejection.RetryAfterSeconds))
	}
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":              rejection.Code,
		"retryAfterSeconds": rejection.RetryAfterSeconds,
		"scope":             rejection.Scope,
		"message":           "too many requests, please try again later",
	})
}

// setRateLimitHeaders define headers informativos de rate limiting
func setRateLimitHeaders(c *gin.Context, decision domain.Decision) {
	if decision.Bypassed {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Header("X-RateLimit-Scope", decision.Scope)
	if !decision.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

// RequestID obtém ou gera um Request ID para tracking
func RequestID(c *gin.Context) string {
	if requestID, ok := c.Get(RequestIDHeader); ok {
		if id, ok := requestID.(string); ok {
			return id
		}
	}

	requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Set(RequestIDHeader, requestID)
	c.Header(RequestIDHeader, requestID)
	return requestID
}
