// Caminho: pkg/httpapi/httpapi.go
// Resumo: Ponto de entrada HTTP compartilhado entre Vercel e servidor local.
// Monta o router, inicializa singletons (DB, Redis, cache, clientes Monday/n8n
// e serviços) e concentra helpers de resposta, sessão, CSRF e CORS.

package httpapi

import (
    "context"
    "database/sql"
    "encoding/json"
    "log"
    "net/http"
    "os"
    "strings"
    "sync"
    "time"

    "github.com/gorilla/mux"
    "github.com/joho/godotenv"

    "github.com/mrapple/tech-transfers-api/internal/cache"
    "github.com/mrapple/tech-transfers-api/internal/config"
    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
    "github.com/mrapple/tech-transfers-api/internal/kv"
    "github.com/mrapple/tech-transfers-api/internal/monday"
    "github.com/mrapple/tech-transfers-api/internal/n8n"
    approvalsvc "github.com/mrapple/tech-transfers-api/internal/services/approval"
    idemsvc "github.com/mrapple/tech-transfers-api/internal/services/idem"
    notifysvc "github.com/mrapple/tech-transfers-api/internal/services/notify"
    sessionsvc "github.com/mrapple/tech-transfers-api/internal/services/session"
)

// Instâncias de singletons para ambiente serverless.
var (
    initOnce sync.Once

    cfg       *config.Config
    sqldb     *sql.DB
    sessions  *sessionsvc.Service
    idem      *idemsvc.Service
    approvals *approvalsvc.Service
    notifier  *notifysvc.Service
    kvcache   cache.Cache
    mondayc   *monday.Client
    n8nc      *n8n.Client

    router *mux.Router
)

// Setup inicializa todas as dependências a partir do ambiente. É chamado uma
// única vez, tanto no arranque local quanto na primeira invocação serverless.
// Os testes chamam SetupWith para injetar configuração e conexões próprias.
func Setup() {
    initOnce.Do(func() {
        // Em desenvolvimento, o .env local sobrescreve variáveis já definidas
        _ = godotenv.Overload()
        c := config.Load()

        dbURL := c.DatabaseURL
        // Em serverless, sem DATABASE_URL, cai para SQLite na área gravável
        if strings.TrimSpace(dbURL) == "" {
            if os.Getenv("VERCEL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
                dbURL = "/tmp/tech_transfers.db"
            }
        }
        conn, err := db.Connect(dbURL)
        if err != nil {
            log.Printf("db connect error: %v", err)
            return
        }
        if err := db.Migrate(context.Background(), conn); err != nil {
            log.Printf("db migrate error: %v", err)
            return
        }
        if err := kv.Init(c.RedisURL, c.RedisHost, c.RedisPort, c.RedisPass, c.RedisTLS); err != nil {
            logWarn("redis init failed: %v", err)
        }
        SetupWith(c, conn)
    })
}

// SetupWith monta serviços e router sobre uma configuração e conexão já
// prontas. Exportado para os testes apontarem Monday/n8n para servidores
// falsos e usarem um SQLite temporário.
func SetupWith(c *config.Config, conn *sql.DB) {
    cfg = c
    sqldb = conn

    timeout := time.Duration(cfg.OutboundTimeoutSeconds) * time.Second

    sessions = sessionsvc.New(sqldb, time.Duration(cfg.SessionDurationHours)*time.Hour)
    sessions.IPLimit = int64(cfg.LoginIPLimit)
    sessions.IPWindow = time.Duration(cfg.LoginIPWindowMinutes) * time.Minute
    sessions.LockThreshold = int64(cfg.LoginFailLockThreshold)
    sessions.LockTTL = time.Duration(cfg.LoginFailLockTTLMinutes) * time.Minute

    idem = idemsvc.New(sqldb)
    approvals = approvalsvc.New(sqldb, time.Duration(cfg.TokenExpiryHours)*time.Hour)

    mondayc = monday.New(cfg.MondayAPIURL, cfg.MondayAPIToken, timeout)
    n8nc = n8n.New(cfg.N8NWebhookBase, timeout)
    notifier = notifysvc.New(sqldb, n8nc, cfg.ApprovalNotifyPath)

    kvcache = cache.New()

    router = buildRouter()
}

// buildRouter registra todas as rotas da API.
func buildRouter() *mux.Router {
    r := mux.NewRouter()
    r.Use(requestLog)
    r.Use(corsHeaders)

    r.HandleFunc("/", rootHandler).Methods(http.MethodGet)
    r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)

    api := r.PathPrefix("/api").Subrouter()

    api.HandleFunc("/auth/login", loginHandler).Methods(http.MethodPost)
    api.HandleFunc("/auth/logout", logoutHandler).Methods(http.MethodPost)
    api.HandleFunc("/auth/verificar", verificarHandler).Methods(http.MethodGet)

    api.HandleFunc("/tecnicos/activos", tecnicosActivosHandler).Methods(http.MethodGet)

    api.HandleFunc("/n8n/tech-get-phones", techGetPhonesHandler).Methods(http.MethodGet)
    api.HandleFunc("/n8n/tech-reparaciones", techReparacionesHandler).Methods(http.MethodGet)
    api.HandleFunc("/n8n/tech-transferir", techTransferirHandler).Methods(http.MethodPost)
    api.HandleFunc("/n8n/tech-transferir-reparacion", techTransferirReparacionHandler).Methods(http.MethodPost)
    api.HandleFunc("/n8n/tech-cambiar-estado", techCambiarEstadoHandler).Methods(http.MethodPost)

    api.HandleFunc("/client/repair/{itemId}", clientRepairGetHandler).Methods(http.MethodGet)
    api.HandleFunc("/client/approval/{itemId}", clientApprovalPostHandler).Methods(http.MethodPost)

    api.HandleFunc("/admin/mark-verbal", adminMarkVerbalHandler).Methods(http.MethodPost)
    api.HandleFunc("/admin/register-approval", adminRegisterApprovalHandler).Methods(http.MethodPost)
    api.HandleFunc("/admin/webhook-failures/retry", adminWebhookRetryHandler).Methods(http.MethodPost)

    api.HandleFunc("/jefe/dashboard", jefeDashboardHandler).Methods(http.MethodGet)

    // Preflight CORS para qualquer rota da API
    api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusNoContent)
    })

    r.NotFoundHandler = requestLog(corsHeaders(http.HandlerFunc(notFoundHandler)))
    return r
}

// Handler é o ponto de entrada exigido pelo runtime Go da Vercel.
func Handler(w http.ResponseWriter, r *http.Request) {
    Setup()
    if router == nil {
        writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "code": "INIT_503", "message": "Serviço indisponível. Tente novamente."})
        return
    }
    router.ServeHTTP(w, r)
}

// Router devolve o router montado (servidor local e testes).
func Router() http.Handler {
    if router == nil {
        return http.HandlerFunc(Handler)
    }
    return router
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{
        "ok":      true,
        "service": cfg.ServiceName,
        "version": cfg.Version,
    })
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{
        "ok":      true,
        "service": cfg.ServiceName,
        "status":  "healthy",
    })
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusNotFound, map[string]any{
        "success": false,
        "code":    "HTTP_404",
        "message": "Rota não encontrada",
        "path":    r.URL.Path,
    })
}

// writeJSON escreve uma resposta JSON com status e payload arbitrários.
func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json; charset=utf-8")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// requestLog registra método, caminho, status, duração, UA e bytes.
func requestLog(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
        start := time.Now()
        next.ServeHTTP(sw, r)
        dur := time.Since(start)
        ua := strings.TrimSpace(r.Header.Get("User-Agent"))
        logInfo("%s %s -> %d (%s) ua=%q bytes=%d", r.Method, r.URL.Path, sw.status, dur.String(), ua, sw.nbytes)
    })
}

// statusWriter captura status/bytes para logging.
type statusWriter struct {
    http.ResponseWriter
    status int
    nbytes int
}

func (w *statusWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
    n, err := w.ResponseWriter.Write(b)
    w.nbytes += n
    return n, err
}

// corsHeaders aplica CORS restrito às origens permitidas. Mutações dependem
// de cookie + header customizado, então o preflight precisa liberar ambos.
func corsHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        origin := r.Header.Get("Origin")
        if origin != "" && originAllowed(origin) {
            h := w.Header()
            h.Set("Access-Control-Allow-Origin", origin)
            h.Set("Access-Control-Allow-Credentials", "true")
            h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
            h.Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, X-Idempotency-Key, Authorization")
            h.Set("Vary", "Origin")
        }
        next.ServeHTTP(w, r)
    })
}

func originAllowed(origin string) bool {
    for _, o := range cfg.AllowedOrigins {
        if strings.EqualFold(o, origin) {
            return true
        }
    }
    return false
}

// validateCsrf exige o header X-Requested-With com o valor combinado em toda
// mutação de sessão. Navegadores não enviam headers customizados em submits
// cross-site sem preflight, o que bloqueia o CSRF clássico.
func validateCsrf(r *http.Request) bool {
    return strings.TrimSpace(r.Header.Get("X-Requested-With")) == cfg.CSRFHeaderValue
}

// currentPrincipal valida o cookie de sessão e devolve a identidade, ou nil.
// Qualquer erro de validação conta como sem sessão (fail closed).
func currentPrincipal(r *http.Request) *domain.Principal {
    c, err := r.Cookie(cfg.SessionCookieName)
    if err != nil || c.Value == "" {
        return nil
    }
    return sessions.Validate(r.Context(), c.Value, clientIP(r), r.Header.Get("User-Agent"))
}

// setSessionCookie grava o cookie de sessão HttpOnly.
func setSessionCookie(w http.ResponseWriter, sessionID string) {
    http.SetCookie(w, &http.Cookie{
        Name:     cfg.SessionCookieName,
        Value:    sessionID,
        Path:     "/",
        MaxAge:   cfg.SessionDurationHours * 3600,
        HttpOnly: true,
        Secure:   cfg.IsProduction(),
        SameSite: http.SameSiteLaxMode,
    })
}

// clearSessionCookie expira o cookie de sessão no navegador.
func clearSessionCookie(w http.ResponseWriter) {
    http.SetCookie(w, &http.Cookie{
        Name:     cfg.SessionCookieName,
        Value:    "",
        Path:     "/",
        MaxAge:   -1,
        HttpOnly: true,
        Secure:   cfg.IsProduction(),
        SameSite: http.SameSiteLaxMode,
    })
}

// hasServiceSecret valida o Bearer fixo das chamadas máquina-a-máquina.
func hasServiceSecret(r *http.Request) bool {
    if strings.TrimSpace(cfg.ServiceAPISecret) == "" {
        return false
    }
    h := r.Header.Get("Authorization")
    if !strings.HasPrefix(strings.ToLower(h), "bearer ") {
        return false
    }
    return strings.TrimSpace(h[len("Bearer "):]) == cfg.ServiceAPISecret
}

// clientIP extrai IP do X-Forwarded-For ou RemoteAddr
func clientIP(r *http.Request) string {
    if r == nil {
        return ""
    }
    if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
        parts := strings.Split(xff, ",")
        if len(parts) > 0 {
            return strings.TrimSpace(parts[0])
        }
    }
    host := r.RemoteAddr
    if i := strings.LastIndex(host, ":"); i > 0 {
        host = host[:i]
    }
    return host
}

// Logging helpers com níveis simples (DEBUG, INFO, WARN, ERROR)
func logEnabled(level string) bool {
    order := map[string]int{"DEBUG": 10, "INFO": 20, "WARN": 30, "ERROR": 40}
    cur := "INFO"
    if cfg != nil && strings.TrimSpace(cfg.LogLevel) != "" {
        cur = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
    }
    return order[strings.ToUpper(level)] >= order[cur]
}

func logDebug(format string, args ...any) {
    if logEnabled("DEBUG") {
        log.Printf("[DEBUG] "+format, args...)
    }
}
func logInfo(format string, args ...any) {
    if logEnabled("INFO") {
        log.Printf("[INFO]  "+format, args...)
    }
}
func logWarn(format string, args ...any) {
    if logEnabled("WARN") {
        log.Printf("[WARN]  "+format, args...)
    }
}
func logError(format string, args ...any) {
    if logEnabled("ERROR") {
        log.Printf("[ERROR] "+format, args...)
    }
}
