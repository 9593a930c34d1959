package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"storefront-guard/internal/domain"
)

// Config representa as configurações de processo (servidor, log, login de demonstração)
type Config struct {
	// Server Configuration
	ServerPort     string
	GinMode        string
	TrustedProxies []string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Internal bypass
	BypassHeader string
	BypassValue  string

	// Login flow collaborators
	DemoLoginEmail    string
	DemoLoginPassword string
	CaptchaSecret     string

	// Route override file
	RoutesFile string
}

// RoutesFile representa a estrutura do arquivo de overrides por rota
type RoutesFile struct {
	Routes map[string]domain.RouteOverride `json:"routes"`
}

// ConfigLoader implementa a interface domain.ConfigLoader
type ConfigLoader struct {
	config     *Config
	rateLimit  *domain.RateLimitConfig
	bruteForce *domain.BruteForceConfig
	warn       func(msg string)
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		warn: func(msg string) { fmt.Fprintln(os.Stderr, "Warning: "+msg) },
	}
}

// Load carrega .env (se existir) e todas as seções de configuração
func (c *ConfigLoader) Load() error {
	if err := godotenv.Load(); err != nil {
		c.warn(".env file not found, using system environment variables")
	}

	config, err := loadProcessConfig()
	if err != nil {
		return err
	}

	rateLimit, err := loadRateLimitConfig(config.RoutesFile, c.warn)
	if err != nil {
		return err
	}

	bruteForce, err := loadBruteForceConfig()
	if err != nil {
		return err
	}

	c.config = config
	c.rateLimit = rateLimit
	c.bruteForce = bruteForce
	return nil
}

// LoadRateLimitConfig retorna a configuração do rate limiter
func (c *ConfigLoader) LoadRateLimitConfig() (*domain.RateLimitConfig, error) {
	if c.rateLimit == nil {
		if err := c.Load(); err != nil {
			return nil, err
		}
	}
	copied := *c.rateLimit
	return &copied, nil
}

// LoadBruteForceConfig retorna a configuração da proteção contra força bruta
func (c *ConfigLoader) LoadBruteForceConfig() (*domain.BruteForceConfig, error) {
	if c.bruteForce == nil {
		if err := c.Load(); err != nil {
			return nil, err
		}
	}
	copied := *c.bruteForce
	return &copied, nil
}

// Reload recarrega todas as configurações
func (c *ConfigLoader) Reload() error {
	return c.Load()
}

// GetConfig retorna a configuração de processo atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// loadProcessConfig carrega configurações de servidor e colaboradores
func loadProcessConfig() (*Config, error) {
	config := &Config{
		ServerPort:        getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:           getEnvWithDefault("GIN_MODE", "debug"),
		LogLevel:          getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvWithDefault("LOG_FORMAT", "json"),
		BypassHeader:      getEnvWithDefault("INTERNAL_BYPASS_HEADER", "X-Internal-Request"),
		BypassValue:       os.Getenv("INTERNAL_BYPASS_VALUE"),
		DemoLoginEmail:    os.Getenv("LOGIN_DEMO_EMAIL"),
		DemoLoginPassword: os.Getenv("LOGIN_DEMO_PASSWORD"),
		CaptchaSecret:     os.Getenv("CAPTCHA_SHARED_SECRET"),
		RoutesFile:        getEnvWithDefault("RATE_LIMIT_ROUTES_FILE", "config/routes.json"),
	}

	if proxies := strings.TrimSpace(os.Getenv("TRUSTED_PROXIES")); proxies != "" {
		for _, proxy := range strings.Split(proxies, ",") {
			if proxy = strings.TrimSpace(proxy); proxy != "" {
				config.TrustedProxies = append(config.TrustedProxies, proxy)
			}
		}
	}

	if _, err := strconv.Atoi(config.ServerPort); err != nil {
		return nil, &domain.ConfigurationError{Field: "SERVER_PORT", Reason: "must be numeric"}
	}
	return config, nil
}

// loadRateLimitConfig carrega a política global e os overrides por rota
func loadRateLimitConfig(routesFile string, warn func(string)) (*domain.RateLimitConfig, error) {
	var err error
	cfg := &domain.RateLimitConfig{
		Strategy: domain.Strategy(strings.ToLower(getEnvWithDefault("RATE_LIMIT_STRATEGY", "memory"))),
	}
	cfg.KeyPrefix = getEnvWithDefault("RATE_LIMIT_KEY_PREFIX", "rl")

	if cfg.Enabled, err = getBool("RATE_LIMIT_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.Points, err = getInt("RATE_LIMIT_POINTS", 100); err != nil {
		return nil, err
	}
	if cfg.DurationSeconds, err = getInt("RATE_LIMIT_DURATION", 60); err != nil {
		return nil, err
	}
	if cfg.BlockDurationSeconds, err = getInt("RATE_LIMIT_BLOCK_DURATION", 0); err != nil {
		return nil, err
	}
	if cfg.AllowInternalBypass, err = getBool("INTERNAL_BYPASS_ENABLED", false); err != nil {
		return nil, err
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis = &domain.RedisSettings{URL: url}
	}

	routes, err := LoadRoutes(routesFile, warn)
	if err != nil {
		return nil, err
	}
	cfg.Routes = routes

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadBruteForceConfig carrega a configuração de força bruta
func loadBruteForceConfig() (*domain.BruteForceConfig, error) {
	var err error
	cfg := &domain.BruteForceConfig{
		KeyPrefix: getEnvWithDefault("BRUTE_FORCE_KEY_PREFIX", "bf"),
		Strategy:  domain.Strategy(strings.ToLower(getEnvWithDefault("BRUTE_FORCE_STRATEGY", getEnvWithDefault("RATE_LIMIT_STRATEGY", "memory")))),
	}

	if cfg.Enabled, err = getBool("BRUTE_FORCE_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.WindowSeconds, err = getInt("BRUTE_FORCE_WINDOW", 900); err != nil {
		return nil, err
	}
	if cfg.ProgressiveDelays.BaseDelayMs, err = getInt("BRUTE_FORCE_BASE_DELAY_MS", 250); err != nil {
		return nil, err
	}
	if cfg.ProgressiveDelays.StepDelayMs, err = getInt("BRUTE_FORCE_STEP_DELAY_MS", 250); err != nil {
		return nil, err
	}
	if cfg.ProgressiveDelays.MaxDelayMs, err = getInt("BRUTE_FORCE_MAX_DELAY_MS", 3000); err != nil {
		return nil, err
	}
	if cfg.CaptchaThreshold, err = getInt("BRUTE_FORCE_CAPTCHA_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.LockoutThreshold, err = getInt("BRUTE_FORCE_LOCKOUT_THRESHOLD", 0); err != nil {
		return nil, err
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis = &domain.RedisSettings{URL: url}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadRoutes lê o arquivo de overrides; ausente usa DefaultRoutes
func LoadRoutes(path string, warn func(string)) (map[string]domain.RouteOverride, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if warn != nil {
			warn(fmt.Sprintf("route config file %s not found, using default routes", path))
		}
		return DefaultRoutes(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route config file: %w", err)
	}

	var routesFile RoutesFile
	if err := json.Unmarshal(data, &routesFile); err != nil {
		return nil, fmt.Errorf("failed to parse route config file: %w", err)
	}
	if routesFile.Routes == nil {
		routesFile.Routes = make(map[string]domain.RouteOverride)
	}
	return routesFile.Routes, nil
}

// DefaultRoutes são os escopos sensíveis da loja
func DefaultRoutes() map[string]domain.RouteOverride {
	return map[string]domain.RouteOverride{
		"auth.login": {
			Points:               intPtr(5),
			DurationSeconds:      intPtr(60),
			BlockDurationSeconds: intPtr(900),
		},
		"auth.register": {
			Points:          intPtr(3),
			DurationSeconds: intPtr(3600),
		},
		"auth.password_reset": {
			Points:               intPtr(3),
			DurationSeconds:      intPtr(900),
			BlockDurationSeconds: intPtr(3600),
		},
	}
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnvWithDefault(key, strconv.Itoa(defaultValue))
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &domain.ConfigurationError{Field: key, Reason: fmt.Sprintf("invalid integer %q", raw)}
	}
	return value, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := getEnvWithDefault(key, strconv.FormatBool(defaultValue))
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, &domain.ConfigurationError{Field: key, Reason: fmt.Sprintf("invalid boolean %q", raw)}
	}
	return value, nil
}

func intPtr(v int) *int {
	return &v
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
