package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"storefront-guard/internal/bruteforce"
	"storefront-guard/internal/config"
	"storefront-guard/internal/domain"
	"storefront-guard/internal/events"
	"storefront-guard/internal/handler"
	"storefront-guard/internal/limiter"
	"storefront-guard/internal/logger"
	"storefront-guard/internal/metrics"
	"storefront-guard/internal/middleware"
)

const recentEventsCapacity = 256

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	if err := configLoader.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	rateLimitCfg, err := configLoader.LoadRateLimitConfig()
	if err != nil {
		log.Fatalf("Failed to load rate limit config: %v", err)
	}
	bruteForceCfg, err := configLoader.LoadBruteForceConfig()
	if err != nil {
		log.Fatalf("Failed to load brute force config: %v", err)
	}

	// Obter configurações do servidor
	serverConfig := configLoader.GetConfig()

	// Inicializar logger
	appLogger := logger.NewLogger(serverConfig.LogLevel, serverConfig.LogFormat)
	appLogger.Info("Starting Storefront Guard API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": serverConfig.LogLevel,
		"port":      serverConfig.ServerPort,
	})

	// Métricas e eventos de segurança
	sink := metrics.NewPrometheusSink(true)
	recentEvents := events.NewMemorySink(recentEventsCapacity)
	eventSink := events.NewGuard(events.Multi{events.NewLogSink(appLogger), recentEvents}, appLogger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInit()

	rateLimiter, err := limiter.NewBundle(initCtx, *rateLimitCfg, limiter.BundleDeps{
		Logger:  appLogger,
		Metrics: sink,
		Events:  eventSink,
	})
	if err != nil {
		appLogger.Error("Failed to initialize rate limiter", err, nil)
		os.Exit(1)
	}

	loginGuard, err := bruteforce.NewService(initCtx, *bruteForceCfg, bruteforce.Deps{
		Logger:  appLogger,
		Metrics: sink,
		Events:  eventSink,
	})
	if err != nil {
		appLogger.Error("Failed to initialize brute force protection", err, nil)
		rateLimiter.Cleanup(context.Background())
		os.Exit(1)
	}

	credentials := map[string]string{}
	if serverConfig.DemoLoginEmail != "" && serverConfig.DemoLoginPassword != "" {
		credentials[serverConfig.DemoLoginEmail] = serverConfig.DemoLoginPassword
	} else {
		appLogger.Warn("No demo login configured, every login attempt will fail", nil)
	}
	authenticator, err := handler.NewStaticAuthenticator(credentials, bcrypt.DefaultCost)
	if err != nil {
		appLogger.Error("Failed to initialize authenticator", err, nil)
		os.Exit(1)
	}

	var bypass middleware.BypassPredicate = middleware.NeverBypass
	if rateLimitCfg.AllowInternalBypass {
		bypass = middleware.HeaderBypass(serverConfig.BypassHeader, serverConfig.BypassValue)
		if serverConfig.BypassValue == "" {
			appLogger.Warn("Internal bypass enabled without INTERNAL_BYPASS_VALUE, no request will be trusted", nil)
		}
	}

	// Inicializar handlers
	handlers := handler.NewHandlers(handler.Deps{
		RateLimiter:   rateLimiter,
		LoginGuard:    loginGuard,
		Authenticator: authenticator,
		Captcha:       handler.NewSharedSecretCaptcha(serverConfig.CaptchaSecret),
		Events:        recentEvents,
		Metrics:       sink.Handler(),
		Bypass:        bypass,
		Logger:        appLogger,
	})

	// Configurar Gin
	if serverConfig.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Criar router
	router := gin.New()
	if err := router.SetTrustedProxies(serverConfig.TrustedProxies); err != nil {
		appLogger.Error("Invalid trusted proxies", err, map[string]interface{}{
			"proxies": serverConfig.TrustedProxies,
		})
		os.Exit(1)
	}

	// Middlewares globais
	router.Use(gin.Recovery())

	// Middleware de logging customizado
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Configurar rotas
	handlers.SetupRoutes(router)

	// Configurar servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", serverConfig.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": serverConfig.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	appLogger.Info("Storefront Guard API is running!", map[string]interface{}{
		"port": serverConfig.ServerPort,
		"endpoints": []string{
			"GET  /health",
			"GET  /metrics",
			"GET  /                        (rate limited: global)",
			"POST /auth/login              (rate limited: auth.login)",
			"GET  /admin/status            (internal)",
			"POST /admin/ratelimit/reset   (internal)",
			"GET  /admin/bruteforce/status (internal)",
			"POST /admin/bruteforce/unlock (internal)",
			"GET  /admin/events            (internal)",
		},
		"rate_limit": map[string]interface{}{
			"enabled":  rateLimitCfg.Enabled,
			"points":   rateLimitCfg.Points,
			"duration": rateLimitCfg.DurationSeconds,
			"strategy": rateLimitCfg.Strategy,
			"scopes":   rateLimiter.Scopes(),
		},
	})

	// SIGHUP recarrega as políticas; SIGINT/SIGTERM encerram
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-reload:
			reloadConfig(configLoader, rateLimiter, loginGuard, appLogger)
		case <-quit:
			running = false
		}
	}
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
	}

	rateLimiter.Cleanup(ctx)
	loginGuard.Cleanup(ctx)

	appLogger.Info("Server stopped gracefully", nil)
}

// reloadConfig relê o ambiente e aplica as novas políticas sem reiniciar o processo
func reloadConfig(loader domain.ConfigLoader, rateLimiter *limiter.Bundle, loginGuard *bruteforce.Service, appLogger domain.Logger) {
	if err := loader.Reload(); err != nil {
		appLogger.Error("Failed to reload config, keeping current policies", err, nil)
		return
	}

	if cfg, err := loader.LoadRateLimitConfig(); err == nil {
		if err := rateLimiter.UpdateConfig(*cfg); err != nil {
			appLogger.Error("Rejected rate limit config", err, nil)
		}
	}
	if cfg, err := loader.LoadBruteForceConfig(); err == nil {
		if err := loginGuard.UpdateConfig(*cfg); err != nil {
			appLogger.Error("Rejected brute force config", err, nil)
		}
	}
	appLogger.Info("Configuration reloaded", nil)
}
