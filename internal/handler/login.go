package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
	"storefront-guard/internal/middleware"
)

// Authenticator verifica credenciais; implementado pelo serviço de sessão
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (bool, error)
}

// CaptchaVerifier valida o token de CAPTCHA; o provedor é externo
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// StaticAuthenticator guarda hashes bcrypt de um conjunto fixo de contas
type StaticAuthenticator struct {
	hashes map[string][]byte
	dummy  []byte
}

// NewStaticAuthenticator gera os hashes das credenciais informadas
func NewStaticAuthenticator(credentials map[string]string, cost int) (*StaticAuthenticator, error) {
	hashes := make(map[string][]byte, len(credentials))
	for email, password := range credentials {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			return nil, err
		}
		hashes[strings.ToLower(strings.TrimSpace(email))] = hash
	}

	// Comparação contra um hash fixo para contas inexistentes custa o mesmo
	dummy, err := bcrypt.GenerateFromPassword([]byte("storefront-guard"), cost)
	if err != nil {
		return nil, err
	}

	return &StaticAuthenticator{hashes: hashes, dummy: dummy}, nil
}

// Authenticate compara a senha com o hash da conta
func (a *StaticAuthenticator) Authenticate(_ context.Context, email, password string) (bool, error) {
	hash, ok := a.hashes[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(password))
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SharedSecretCaptcha aceita um token igual ao segredo configurado.
// Com segredo vazio nenhum token é aceito.
type SharedSecretCaptcha struct {
	secret string
}

// NewSharedSecretCaptcha cria o verificador
func NewSharedSecretCaptcha(secret string) *SharedSecretCaptcha {
	return &SharedSecretCaptcha{secret: secret}
}

// Verify compara o token em tempo constante
func (v *SharedSecretCaptcha) Verify(_ context.Context, token, _ string) (bool, error) {
	if v.secret == "" || token == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) == 1, nil
}

// LoginRequest representa o corpo do login
type LoginRequest struct {
	Email        string `json:"email" binding:"required"`
	Password     string `json:"password" binding:"required"`
	CaptchaToken string `json:"captchaToken"`
}

// LoginHandler aplica a escalada de força bruta em volta da autenticação
func (h *Handlers) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		validationError(c, "email must not be blank")
		return
	}

	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)
	masked := logger.MaskIdentifier(req.Email)

	verdict, err := h.guard.Verdict(ctx, req.Email)
	if err != nil {
		if h.rejectOnQuota(c, err) {
			return
		}
		log.Warn("Failed to read login verdict", map[string]interface{}{
			"error":      err.Error(),
			"identifier": masked,
		})
	}

	if verdict.Locked {
		c.JSON(http.StatusLocked, gin.H{
			"code":     "ACCOUNT_LOCKED",
			"attempts": verdict.Attempts,
			"message":  "too many failed attempts, account temporarily locked",
		})
		return
	}

	if verdict.CaptchaRequired {
		ok, err := h.captcha.Verify(ctx, req.CaptchaToken, c.ClientIP())
		if err != nil {
			log.Error("Captcha verification failed", err, map[string]interface{}{
				"identifier": masked,
			})
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"code":            "CAPTCHA_REQUIRED",
				"captchaRequired": true,
				"attempts":        verdict.Attempts,
			})
			return
		}
	}

	if err := h.guard.ApplyDelay(ctx, req.Email); err != nil {
		if h.rejectOnQuota(c, err) {
			return
		}
		// Cliente desistiu durante o atraso
		c.AbortWithStatus(http.StatusRequestTimeout)
		return
	}

	authenticated, err := h.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		log.Error("Authentication failed", err, map[string]interface{}{
			"identifier": masked,
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": "Unable to authenticate",
		})
		return
	}

	if !authenticated {
		failure, err := h.guard.RecordFailure(ctx, req.Email)
		if err != nil {
			if h.rejectOnQuota(c, err) {
				return
			}
			log.Error("Failed to record login failure", err, map[string]interface{}{
				"identifier": masked,
			})
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":            "INVALID_CREDENTIALS",
			"attempts":        failure.Attempts,
			"captchaRequired": failure.CaptchaRequired,
			"locked":          failure.Locked,
		})
		return
	}

	// Sucesso nunca falha por causa da limpeza do contador
	if err := h.guard.Reset(ctx, req.Email); err != nil {
		log.Warn("Failed to reset login attempts after success", map[string]interface{}{
			"error":      err.Error(),
			"identifier": masked,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "login successful",
		"email":   strings.ToLower(strings.TrimSpace(req.Email)),
	})
}

// rejectOnQuota responde RATE_LIMIT_EXCEEDED quando o store sinaliza quota
func (h *Handlers) rejectOnQuota(c *gin.Context, err error) bool {
	if !domain.IsQuotaExceeded(err) {
		return false
	}
	middleware.WriteRejection(c, domain.Rejection{
		Code:              domain.CodeRateLimitExceeded,
		RetryAfterSeconds: h.guard.Config().WindowSeconds,
		Scope:             LoginScope,
	})
	return true
}
