// Caminho: pkg/httpapi/approval.go
// Resumo: Fluxo público de aprobación de reparaciones (página do cliente via
// link tokenizado) e rotas administrativas: decisão verbal/telefónica pelo
// jefe, registro de aprobación pelo workflow e reprocesso de webhooks.

package httpapi

import (
    "context"
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "github.com/gorilla/mux"

    "github.com/mrapple/tech-transfers-api/internal/domain"
    approvalsvc "github.com/mrapple/tech-transfers-api/internal/services/approval"
    notifysvc "github.com/mrapple/tech-transfers-api/internal/services/notify"
)

// clientRepairGetHandler devolve os dados públicos da reparación para a
// página de aprobación. Registro inexistente e token errado respondem
// idêntico (403 INVALID): o 404 diferenciado permitiria enumerar ítems.
func clientRepairGetHandler(w http.ResponseWriter, r *http.Request) {
    itemID := mux.Vars(r)["itemId"]
    token := strings.TrimSpace(r.URL.Query().Get("t"))

    a, code, err := approvals.Get(r.Context(), itemID, token)
    if err != nil {
        logError("approval get item=%s: %v", itemID, err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error interno"})
        return
    }
    switch code {
    case approvalsvc.CodeOK:
        writeJSON(w, http.StatusOK, map[string]any{
            "success": true,
            "repair": map[string]any{
                "item_id":         a.ItemID,
                "status":          a.Status,
                "cliente_nombre":  a.ClienteNombre,
                "tipo_reparacion": a.TipoReparacion,
                "serial_imei":     a.SerialIMEI,
                "valor_a_cobrar":  a.ValorACobrar,
                "reparado_a":      a.ReparadoA,
            },
        })
    case approvalsvc.CodeExpired:
        writeJSON(w, http.StatusGone, map[string]any{"success": false, "code": "EXPIRED", "message": "El enlace ha expirado. Contacta la tienda."})
    default:
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "INVALID", "message": "Enlace inválido"})
    }
}

// clientApprovalPostHandler registra a decisão do cliente (aprobar/rechazar).
// A decisão persiste primeiro; a notificação ao workflow corre em segundo
// plano e nunca desfaz nem atrasa a resposta ao cliente.
func clientApprovalPostHandler(w http.ResponseWriter, r *http.Request) {
    itemID := mux.Vars(r)["itemId"]

    var req struct {
        Token      string `json:"token"`
        TokenShort string `json:"t"` // alias usado pela página antiga
        Decision   string `json:"decision"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "JSON inválido"})
        return
    }
    token := strings.TrimSpace(req.Token)
    if token == "" {
        token = strings.TrimSpace(req.TokenShort)
    }
    decision := normalizeDecision(req.Decision)
    if decision == "" {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "INVALID_INPUT", "message": "decision debe ser approved o rejected"})
        return
    }

    res, err := approvals.Decide(r.Context(), itemID, token, decision, domain.ViaWeb)
    if err != nil {
        logError("approval decide item=%s: %v", itemID, err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error interno"})
        return
    }
    switch res.Code {
    case approvalsvc.CodeOK:
        approvals.LogEvent(r.Context(), itemID, "decision_"+decision, eventPayload(domain.ViaWeb))
        dispatchDecisionNotify(itemID, decision, domain.ViaWeb, res.DecidedAt)
        writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": decision})
    case approvalsvc.CodeAlreadyDecided:
        writeJSON(w, http.StatusConflict, map[string]any{"success": false, "code": "ALREADY_DECIDED", "status": res.Status, "message": "Esta reparación ya fue decidida"})
    case approvalsvc.CodeExpired:
        writeJSON(w, http.StatusGone, map[string]any{"success": false, "code": "EXPIRED", "message": "El enlace ha expirado. Contacta la tienda."})
    default:
        // NOT_FOUND e INVALID_TOKEN colapsam: mesma resposta do GET
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "INVALID", "message": "Enlace inválido"})
    }
}

// adminMarkVerbalHandler registra uma decisão colhida fora da web (cliente
// aprovou na loja ou por teléfono). Exige sessão de jefe.
func adminMarkVerbalHandler(w http.ResponseWriter, r *http.Request) {
    if !validateCsrf(r) {
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "CSRF_FAILED", "message": "Solicitud no permitida"})
        return
    }
    p := currentPrincipal(r)
    if p == nil || p.Rol != domain.RolJefe {
        writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "FORBIDDEN", "message": "Solo el jefe puede registrar decisiones verbales"})
        return
    }

    var req struct {
        ItemID   string `json:"item_id"`
        Decision string `json:"decision"`
        Via      string `json:"via"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ItemID) == "" {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "JSON inválido"})
        return
    }
    decision := normalizeDecision(req.Decision)
    if decision == "" {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "INVALID_INPUT", "message": "decision debe ser approved o rejected"})
        return
    }
    via := strings.TrimSpace(req.Via)
    if via != domain.ViaVerbal && via != domain.ViaPhone {
        via = domain.ViaVerbal
    }

    res, err := approvals.DecideWithoutToken(r.Context(), req.ItemID, decision, via)
    if err != nil {
        logError("mark verbal item=%s: %v", req.ItemID, err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error interno"})
        return
    }
    switch res.Code {
    case approvalsvc.CodeOK:
        logInfo("decisión %s registrada por jefe=%s via=%s item=%s", decision, p.Nombre, via, req.ItemID)
        approvals.LogEvent(r.Context(), req.ItemID, "decision_"+decision, eventPayload(via))
        dispatchDecisionNotify(req.ItemID, decision, via, res.DecidedAt)
        writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": decision, "via": via})
    case approvalsvc.CodeAlreadyDecided:
        writeJSON(w, http.StatusConflict, map[string]any{"success": false, "code": "ALREADY_DECIDED", "status": res.Status, "message": "Esta reparación ya fue decidida"})
    default:
        writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "code": "NOT_FOUND", "message": "Reparación no encontrada"})
    }
}

// adminRegisterApprovalHandler é chamado pelo workflow (n8n) quando uma
// reparación entra em estado de espera de aprobación. Autenticação por
// Bearer fixo de serviço; devolve a URL pública tokenizada.
func adminRegisterApprovalHandler(w http.ResponseWriter, r *http.Request) {
    if !hasServiceSecret(r) {
        writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "code": "UNAUTHORIZED", "message": "No autorizado"})
        return
    }

    var req struct {
        ItemID          string  `json:"item_id"`
        ClienteNombre   string  `json:"cliente_nombre"`
        ClienteTelefono string  `json:"cliente_telefono"`
        TipoReparacion  string  `json:"tipo_reparacion"`
        SerialIMEI      string  `json:"serial_imei"`
        ValorACobrar    float64 `json:"valor_a_cobrar"`
        ReparadoA       string  `json:"reparado_a"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ItemID) == "" {
        writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "code": "BAD_REQUEST", "message": "JSON inválido o item_id ausente"})
        return
    }

    gen, code, err := approvals.Register(r.Context(), approvalsvc.RegisterInput{
        ItemID:          strings.TrimSpace(req.ItemID),
        ClienteNombre:   strings.TrimSpace(req.ClienteNombre),
        ClienteTelefono: strings.TrimSpace(req.ClienteTelefono),
        TipoReparacion:  strings.TrimSpace(req.TipoReparacion),
        SerialIMEI:      strings.TrimSpace(req.SerialIMEI),
        ValorACobrar:    req.ValorACobrar,
        ReparadoA:       strings.TrimSpace(req.ReparadoA),
    })
    if err != nil {
        logError("register approval item=%s: %v", req.ItemID, err)
        writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "code": "SERVER_ERROR", "message": "Error interno"})
        return
    }
    if code == approvalsvc.CodeAlreadyDecided {
        writeJSON(w, http.StatusConflict, map[string]any{"success": false, "code": "ALREADY_DECIDED", "message": "Esta reparación ya fue decidida"})
        return
    }

    approvals.LogEvent(r.Context(), req.ItemID, "approval_registered", nil)
    writeJSON(w, http.StatusCreated, map[string]any{
        "success":      true,
        "item_id":      strings.TrimSpace(req.ItemID),
        "approval_url": approvalsvc.BuildApprovalURL(cfg.PublicBaseURL, strings.TrimSpace(req.ItemID), gen.Token),
        "expires_at":   gen.ExpiresAt.UTC().Format(time.RFC3339),
    })
}

// adminWebhookRetryHandler drena a fila de notificações que esgotaram os
// retries. Aceita sessão de jefe ou o Bearer de serviço (cron do n8n).
func adminWebhookRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !hasServiceSecret(r) {
        p := currentPrincipal(r)
        if p == nil || p.Rol != domain.RolJefe {
            writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "FORBIDDEN", "message": "No autorizado"})
            return
        }
        if !validateCsrf(r) {
            writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "code": "CSRF_FAILED", "message": "Solicitud no permitida"})
            return
        }
    }

    delivered, remaining, err := notifier.RetryPending(r.Context())
    if err != nil {
        logError("webhook retry: %v", err)
        writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "code": "NOTIFY_502", "message": err.Error()})
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"success": true, "delivered": delivered, "remaining": remaining})
}

// normalizeDecision aceita as formas em inglês e espanhol e devolve o
// estado canônico, ou vazio quando inválida.
func normalizeDecision(d string) string {
    switch strings.ToLower(strings.TrimSpace(d)) {
    case "approved", "aprobar", "aprobada", "aprobado":
        return domain.ApprovalApproved
    case "rejected", "rechazar", "rechazada", "rechazado":
        return domain.ApprovalRejected
    }
    return ""
}

func eventPayload(via string) []byte {
    raw, _ := json.Marshal(map[string]any{"via": via})
    return raw
}

// dispatchDecisionNotify dispara a notificação de decisão em segundo plano.
// Contexto próprio: a entrega (com backoff) sobrevive ao fim da requisição.
func dispatchDecisionNotify(itemID, decision, via string, decidedAt time.Time) {
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
        defer cancel()
        a, err := approvals.Details(ctx, itemID)
        if err != nil {
            logWarn("notify details item=%s: %v", itemID, err)
        }
        var payload map[string]any
        if a != nil {
            payload = notifysvc.DecisionPayload(a, decision, via, decidedAt)
        } else {
            payload = map[string]any{
                "event":      "repair_decision",
                "item_id":    itemID,
                "decision":   decision,
                "via":        via,
                "decided_at": decidedAt.UTC().Format(time.RFC3339),
            }
        }
        notifier.Notify(ctx, payload)
    }()
}
