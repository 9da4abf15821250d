// Caminho: internal/config/config.go
// Resumo: Carrega e expõe variáveis de configuração do sistema a partir de variáveis de ambiente.
// Inclui defaults seguros para desenvolvimento e centraliza chaves usadas no serviço.

package config

import (
    "os"
    "strconv"
    "strings"
)

// Config representa as configurações necessárias do serviço.
type Config struct {
    DeploymentEnv string
    LogLevel      string

    // Banco de dados (Postgres/SQLite)
    DatabaseURL string

    // Redis (opcional: rate limit + cache compartilhado)
    RedisHost string
    RedisPort int
    RedisPass string
    RedisTLS  bool
    RedisURL  string

    // Sessão de técnico
    SessionCookieName    string
    SessionDurationHours int

    // Rate limit / Lockout de login (configuráveis por env)
    LoginIPLimit            int
    LoginIPWindowMinutes    int
    LoginFailLockThreshold  int
    LoginFailLockTTLMinutes int

    // CSRF: valor exigido no header X-Requested-With em mutações
    CSRFHeaderValue string

    // Monday.com (oráculo de propriedade)
    MondayAPIURL       string
    MondayAPIToken     string
    OwnerColumnPhones  string
    OwnerColumnRepairs string

    // n8n (motor de workflow que executa as mutações)
    N8NWebhookBase     string
    ApprovalNotifyPath string

    // Aprovação de reparaciones (link público)
    TokenExpiryHours int
    PublicBaseURL    string

    // Secret fixo para chamadas máquina-a-máquina (n8n -> API)
    ServiceAPISecret string

    // Cache read-through (TTLs em segundos)
    CacheTTLTelefonosSeconds    int
    CacheTTLReparacionesSeconds int
    CacheTTLTecnicosSeconds     int

    // Timeout de chamadas HTTP de saída
    OutboundTimeoutSeconds int

    // CORS
    AllowedOrigins []string

    // Metadados
    ServiceName string
    Version     string
}

// getenv retorna o valor de uma variável de ambiente, ou o default se não definido.
func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

// getenvInt retorna uma variável de ambiente como inteiro, ou o default se ausente/inválido.
func getenvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        if n, err := strconv.Atoi(v); err == nil {
            return n
        }
    }
    return def
}

// getenvBool retorna uma variável de ambiente como bool, ou o default se ausente/inválido.
func getenvBool(key string, def bool) bool {
    if v := os.Getenv(key); v != "" {
        if b, err := strconv.ParseBool(v); err == nil {
            return b
        }
    }
    return def
}

// getenvList divide uma variável por vírgulas, ignorando entradas vazias.
func getenvList(key string, def []string) []string {
    v := os.Getenv(key)
    if v == "" {
        return def
    }
    parts := strings.Split(v, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        if s := strings.TrimSpace(p); s != "" {
            out = append(out, s)
        }
    }
    if len(out) == 0 {
        return def
    }
    return out
}

// Load carrega as variáveis de configuração a partir do ambiente e devolve uma instância de Config.
func Load() *Config {
    return &Config{
        DeploymentEnv: getenv("DEPLOYMENT_ENVIRONMENT", "development"),
        LogLevel:      getenv("LOG_LEVEL", "INFO"),
        DatabaseURL:   getenv("DATABASE_URL", ""),

        RedisHost: getenv("REDIS_HOST", ""),
        RedisPort: getenvInt("REDIS_PORT", 0),
        RedisPass: getenv("REDIS_PASSWORD", ""),
        RedisTLS:  getenvBool("REDIS_USE_TLS", false),
        RedisURL:  getenv("REDIS_URL", ""),

        SessionCookieName:    getenv("SESSION_COOKIE_NAME", "mr_session"),
        SessionDurationHours: getenvInt("SESSION_DURATION_HOURS", 8),

        // Defaults: login IP 20/5min; lock >=5 falhas por 15min
        LoginIPLimit:            getenvInt("LOGIN_IP_LIMIT", 20),
        LoginIPWindowMinutes:    getenvInt("LOGIN_IP_WINDOW_MINUTES", 5),
        LoginFailLockThreshold:  getenvInt("LOGIN_FAIL_LOCK_THRESHOLD", 5),
        LoginFailLockTTLMinutes: getenvInt("LOGIN_FAIL_LOCK_TTL_MINUTES", 15),

        CSRFHeaderValue: getenv("CSRF_HEADER_VALUE", "mrapple"),

        MondayAPIURL:       getenv("MONDAY_API_URL", "https://api.monday.com/v2"),
        MondayAPIToken:     getenv("MONDAY_API_TOKEN", ""),
        OwnerColumnPhones:  getenv("MONDAY_OWNER_COLUMN_PHONES", "color_mkzxt1at"),
        OwnerColumnRepairs: getenv("MONDAY_OWNER_COLUMN_REPAIRS", "estado_1"),

        N8NWebhookBase:     getenv("N8N_WEBHOOK_BASE", ""),
        ApprovalNotifyPath: getenv("N8N_APPROVAL_NOTIFY_PATH", "/repair-approval-notify"),

        TokenExpiryHours: getenvInt("APPROVAL_TOKEN_EXPIRY_HOURS", 48),
        PublicBaseURL:    getenv("PUBLIC_BASE_URL", ""),

        ServiceAPISecret: getenv("SERVICE_API_SECRET", ""),

        // 45s telefones/reparaciones; 2min técnicos (muda raramente)
        CacheTTLTelefonosSeconds:    getenvInt("CACHE_TTL_TELEFONOS_SECONDS", 45),
        CacheTTLReparacionesSeconds: getenvInt("CACHE_TTL_REPARACIONES_SECONDS", 45),
        CacheTTLTecnicosSeconds:     getenvInt("CACHE_TTL_TECNICOS_SECONDS", 120),

        OutboundTimeoutSeconds: getenvInt("OUTBOUND_TIMEOUT_SECONDS", 15),

        AllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", []string{
            "https://mrapple-tech-transfers.vercel.app",
            "http://localhost:3000",
            "http://localhost:3001",
        }),

        ServiceName: getenv("OTEL_SERVICE_NAME", "tech_transfers_api"),
        Version:     getenv("SERVICE_VERSION", "0.1.0"),
    }
}

// IsProduction informa se o serviço roda em produção (decide flag Secure do cookie).
func (c *Config) IsProduction() bool {
    return strings.EqualFold(c.DeploymentEnv, "production")
}
