// Caminho: pkg/httpapi/transfers.go
// Resumo: Rotas de leitura (telefones/reparaciones com cache curto) e o
// pipeline de mutação: CSRF, sessão, idempotência, custódia no Monday,
// sobrescrita de identidade e encaminhamento ao n8n.

package httpapi

import (
    "context"
    "encoding/json"
    "net/http"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/domain"
)

// readSpec descreve uma rota de leitura cacheada que proxia um webhook do n8n.
type readSpec struct {
    webhookPath string
    cacheKey    string // prefixo; a chave final inclui o técnico alvo
    cacheTTL    func() time.Duration
}

// mutationSpec descreve uma rota de mutação encaminhada ao n8n.
type mutationSpec struct {
    scope       string // escopo do ledger de idempotência
    ownerColumn func() string
    webhookPath string
    cachePrefix string // categoria de cache invalidada após sucesso
}

func techGetPhonesHandler(w http.ResponseWriter, r *http.Request) {
    proxyRead(w, r, readSpec{
        webhookPath: "/tech-get-phones",
        cacheKey:    "telefonos:",
        cacheTTL:    func() time.Duration { return time.Duration(cfg.CacheTTLTelefonosSeconds) * time.Second },
    })
}

func techReparacionesHandler(w http.ResponseWriter, r *http.Request) {
    proxyRead(w, r, readSpec{
        webhookPath: "/tech-reparaciones",
        cacheKey:    "reparaciones:",
        cacheTTL:    func() time.Duration { return time.Duration(cfg.CacheTTLReparacionesSeconds) * time.Second },
    })
}

// proxyRead resolve o técnico alvo a partir da sessão, consulta o cache e,
// em miss, encaminha ao webhook de leitura do n8n.
//
// Visibilidade: técnico comum só enxerga a própria lista; jefe (ou técnico
// com puede_ver_equipo) pode pedir a de outro via ?tecnico= ou a visão
// completa via ?todos=1.
func proxyRead(w http.ResponseWriter, r *http.Request, spec readSpec) {
    p := currentPrincipal(r)
    if p == nil {
        writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "code": "NO_SESSION", "message": "Sesión inválida o expirada"})
        return
    }

    target := p.Nombre
    if p.Rol == domain.RolJefe || p.PuedeVerEquipo {
        if q := strings.TrimSpace(r.URL.Query().Get("tecnico")); q != "" {
            target = q
        }
        if r.URL.Query().Get("todos") == "1" {
            target = "*"
        }
    }

    key := spec.cacheKey + target
    if raw, ok := kvcache.Get(r.Context(), key); ok {
        logDebug("cache hit %s", key)
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte(raw))
        return
    }

    res, err := n8nc.GetJSON(r.Context(), spec.webhookPath, url.Values{"tecnico": {target}})
    if err != nil {
        logError("n8n read %s: %v", spec.webhookPath, err)
        writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "code": "N8N_502", "message": "Error al consultar el workflow"})
        return
    }
    if !res.OK() {
        logWarn("n8n read %s respondeu %d", spec.webhookPath, res.StatusCode)
        writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "code": "N8N_502", "message": "Error al consultar el workflow"})
        return
    }

    body := map[string]any{"success": true, "data": res.Payload()}
    raw, err := json.Marshal(body)
    if err != nil {
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error interno"})
        return
    }
    kvcache.Set(context.WithoutCancel(r.Context()), key, string(raw), spec.cacheTTL())

    w.Header().Set("Content-Type", "application/json; charset=utf-8")
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(raw)
}

func techTransferirHandler(w http.ResponseWriter, r *http.Request) {
    forwardMutation(w, r, mutationSpec{
        scope:       "transfer_phone",
        ownerColumn: func() string { return cfg.OwnerColumnPhones },
        webhookPath: "/tech-transferir",
        cachePrefix: "telefonos:",
    })
}

func techTransferirReparacionHandler(w http.ResponseWriter, r *http.Request) {
    forwardMutation(w, r, mutationSpec{
        scope:       "transfer_repair",
        ownerColumn: func() string { return cfg.OwnerColumnRepairs },
        webhookPath: "/tech-transferir-reparacion",
        cachePrefix: "reparaciones:",
    })
}

func techCambiarEstadoHandler(w http.ResponseWriter, r *http.Request) {
    forwardMutation(w, r, mutationSpec{
        scope:       "repair_status",
        ownerColumn: func() string { return cfg.OwnerColumnRepairs },
        webhookPath: "/tech-cambiar-estado",
        cachePrefix: "reparaciones:",
    })
}

// forwardMutation é o pipeline comum das três mutações. A ordem dos gates
// importa: CSRF e sessão antes de tocar o ledger; custódia antes de
// encaminhar qualquer coisa ao n8n.
func forwardMutation(w http.ResponseWriter, r *http.Request, spec mutationSpec) {
    if !validateCsrf(r) {
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "CSRF_FAILED", "message": "Solicitud no permitida"})
        return
    }
    p := currentPrincipal(r)
    if p == nil {
        writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "code": "NO_SESSION", "message": "Sesión inválida o expirada"})
        return
    }

    var body map[string]any
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "JSON inválido"})
        return
    }
    itemID := stringField(body, "item_id")
    if itemID == "" {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "item_id es obligatorio"})
        return
    }

    // A chave de idempotência viaja no corpo (request_id); o header fica
    // como fallback para clientes antigos.
    idemKey := stringField(body, "request_id")
    if idemKey == "" {
        idemKey = strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
    }
    claim := idem.Claim(r.Context(), idemKey, spec.scope, p.TecnicoID)
    if claim.AlreadyProcessed {
        if claim.Status == domain.IdemSucceeded && len(claim.Response) > 0 {
            // Replay literal da resposta original: o cliente repetiu a
            // requisição (double-click, retry de rede) e a mutação já ocorreu
            logInfo("idem replay scope=%s key=%s", spec.scope, idemKey)
            w.Header().Set("Content-Type", "application/json; charset=utf-8")
            w.WriteHeader(http.StatusOK)
            _, _ = w.Write(claim.Response)
            return
        }
        writeJSON(w, http.StatusConflict, map[string]any{"success": false, "code": "DUPLICATE", "message": "Operación en curso. Espera un momento."})
        return
    }

    // Custódia: o dono atual no Monday precisa ser o técnico da sessão.
    // Erro de consulta nega a operação: sem oráculo, sem mutação.
    owner, err := mondayc.GetOwnerTextForItem(r.Context(), itemID, spec.ownerColumn())
    if err != nil {
        logError("monday owner lookup item=%s: %v", itemID, err)
        idem.Fail(r.Context(), idemKey, spec.scope, jsonError("MONDAY_502"))
        writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "code": "MONDAY_502", "message": "No se pudo verificar la custodia"})
        return
    }
    if owner.ItemID == "" {
        idem.Fail(r.Context(), idemKey, spec.scope, jsonError("NOT_FOUND"))
        writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "code": "NOT_FOUND", "message": "Ítem no encontrado"})
        return
    }
    actual := ""
    if owner.OwnerText != nil {
        actual = strings.TrimSpace(*owner.OwnerText)
    }
    if actual == "" || actual != strings.TrimSpace(p.MondayStatusValue) {
        logWarn("custodia negada item=%s owner=%q session=%q", itemID, actual, p.MondayStatusValue)
        idem.Fail(r.Context(), idemKey, spec.scope, jsonError("NOT_OWNER"))
        writeJSON(w, http.StatusForbidden, map[string]any{
            "success":       false,
            "code":          "NOT_OWNER",
            "message":       "Este ítem ya no está bajo tu custodia",
            "owner_actual":  actual,
            "owner_session": p.MondayStatusValue,
        })
        return
    }

    // Identidade vem sempre da sessão, nunca do corpo do cliente: qualquer
    // campo que afirme quem opera é sobrescrito antes do encaminhamento.
    body["tecnico_id"] = p.TecnicoID
    body["tecnico_actual"] = p.TecnicoID
    body["tecnico_nombre"] = p.Nombre
    body["tecnico_actual_nombre"] = p.Nombre

    res, err := n8nc.PostJSON(r.Context(), spec.webhookPath, body)
    if err != nil {
        logError("n8n forward %s item=%s: %v", spec.webhookPath, itemID, err)
        idem.Fail(r.Context(), idemKey, spec.scope, jsonError("N8N_502"))
        writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "code": "N8N_502", "message": "Error al ejecutar la operación"})
        return
    }
    if !res.OK() {
        // O motor respondeu: relay do status e do corpo sem reembrulhar,
        // para o frontend ver o erro como o workflow o produziu
        logWarn("n8n forward %s item=%s respondeu %d", spec.webhookPath, itemID, res.StatusCode)
        upstream, _ := json.Marshal(res.Payload())
        idem.Fail(r.Context(), idemKey, spec.scope, upstream)
        writeJSON(w, res.StatusCode, res.Payload())
        return
    }

    resp := map[string]any{"success": true, "data": res.Payload()}
    raw, _ := json.Marshal(resp)
    idem.Succeed(r.Context(), idemKey, spec.scope, raw)
    kvcache.Invalidate(context.WithoutCancel(r.Context()), spec.cachePrefix)
    logInfo("mutación %s ok item=%s tecnico=%s", spec.scope, itemID, p.Nombre)

    w.Header().Set("Content-Type", "application/json; charset=utf-8")
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(raw)
}

// stringField extrai um campo string do corpo, tolerando números JSON
// (IDs do Monday chegam às vezes como número).
func stringField(body map[string]any, key string) string {
    switch v := body[key].(type) {
    case string:
        return strings.TrimSpace(v)
    case float64:
        return strconv.FormatFloat(v, 'f', -1, 64)
    default:
        return ""
    }
}

func jsonError(code string) []byte {
    raw, _ := json.Marshal(map[string]any{"success": false, "code": code})
    return raw
}
