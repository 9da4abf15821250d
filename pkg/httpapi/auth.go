// Caminho: pkg/httpapi/auth.go
// Resumo: Rotas de autenticação por PIN (login, logout, verificação de sessão)
// e listagem de técnicos ativos para o dropdown de transferência.

package httpapi

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/domain"
)

// loginHandler autentica um técnico pelo PIN e grava o cookie de sessão.
// O PIN nunca aparece em logs nem em respostas.
func loginHandler(w http.ResponseWriter, r *http.Request) {
    if sessions == nil || sqldb == nil {
        logWarn("login attempted before service init")
        writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "code": "AUTH_503_INIT", "message": "Servicio no disponible. Intenta de nuevo."})
        return
    }
    if !validateCsrf(r) {
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "CSRF_FAILED", "message": "Solicitud no permitida"})
        return
    }
    var req struct {
        PIN string `json:"pin"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "JSON inválido"})
        return
    }
    req.PIN = strings.TrimSpace(req.PIN)
    if !isFourDigitPIN(req.PIN) {
        // Rejeita antes de qualquer consulta ao banco
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "INVALID_INPUT", "message": "PIN inválido"})
        return
    }

    tec, sessionID, err := sessions.Login(r.Context(), req.PIN, clientIP(r), r.Header.Get("User-Agent"))
    if err != nil {
        if errors.Is(err, domain.ErrRateLimited) {
            writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "code": "RATE_LIMIT", "blocked": true, "message": "Demasiados intentos. Intenta más tarde."})
            return
        }
        logWarn("login failed from %s: %v", clientIP(r), err)
        writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "code": "UNAUTHORIZED", "blocked": false, "message": "PIN incorrecto"})
        return
    }
    logInfo("login success for '%s'", tec.Nombre)

    setSessionCookie(w, sessionID)
    writeJSON(w, http.StatusOK, map[string]any{
        "success": true,
        "tecnico": domain.Principal{
            TecnicoID:      tec.ID,
            Nombre:         tec.Nombre,
            Rol:            tec.Rol,
            PuedeVerEquipo: tec.PuedeVerEquipo,
        },
    })
}

// logoutHandler revoga a sessão no servidor e expira o cookie.
// Idempotente: sem sessão válida ainda responde sucesso e limpa o cookie.
func logoutHandler(w http.ResponseWriter, r *http.Request) {
    if !validateCsrf(r) {
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "CSRF_FAILED", "message": "Solicitud no permitida"})
        return
    }
    if c, err := r.Cookie(cfg.SessionCookieName); err == nil && c.Value != "" {
        if err := sessions.Revoke(r.Context(), c.Value); err != nil {
            logWarn("logout revoke: %v", err)
        }
    }
    clearSessionCookie(w)
    writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// verificarHandler é a sonda de sessão do frontend. Responde sempre 200 para
// não poluir o console do navegador; a ausência de sessão vai no corpo.
func verificarHandler(w http.ResponseWriter, r *http.Request) {
    p := currentPrincipal(r)
    if p == nil {
        writeJSON(w, http.StatusOK, map[string]any{"success": false, "code": "NO_SESSION"})
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"success": true, "tecnico": p})
}

// isFourDigitPIN aceita exatamente 4 dígitos ASCII.
func isFourDigitPIN(pin string) bool {
    if len(pin) != 4 {
        return false
    }
    for i := 0; i < len(pin); i++ {
        if pin[i] < '0' || pin[i] > '9' {
            return false
        }
    }
    return true
}

// tecnicosActivosHandler lista técnicos ativos para seleção de destino de
// transferência. Cacheado: a lista muda raramente.
func tecnicosActivosHandler(w http.ResponseWriter, r *http.Request) {
    p := currentPrincipal(r)
    if p == nil {
        writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "code": "NO_SESSION", "message": "Sesión inválida o expirada"})
        return
    }

    const key = "tecnicos:activos"
    if raw, ok := kvcache.Get(r.Context(), key); ok {
        var cached []map[string]any
        if json.Unmarshal([]byte(raw), &cached) == nil {
            writeJSON(w, http.StatusOK, map[string]any{"success": true, "tecnicos": cached, "cached": true})
            return
        }
    }

    list, err := sessions.ActiveTecnicos(r.Context())
    if err != nil {
        logError("list active tecnicos: %v", err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error al consultar técnicos"})
        return
    }
    if raw, err := json.Marshal(list); err == nil {
        ttl := time.Duration(cfg.CacheTTLTecnicosSeconds) * time.Second
        kvcache.Set(context.WithoutCancel(r.Context()), key, string(raw), ttl)
    }
    writeJSON(w, http.StatusOK, map[string]any{"success": true, "tecnicos": list})
}
