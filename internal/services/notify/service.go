// Caminho: internal/services/notify/service.go
// Resumo: Entrega de notificações de decisão ao workflow (n8n) com
// reintentos e fila de falhas persistida para reprocesso manual.

package notifysvc

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
    "github.com/mrapple/tech-transfers-api/internal/n8n"
)

const maxAttempts = 3

// backoff entre tentativas: 1s, 2s, 4s.
func backoff(attempt int) time.Duration {
    return time.Duration(1<<attempt) * time.Second
}

// Service envia payloads de decisão ao webhook e guarda o que não entregou.
type Service struct {
    DB     *sql.DB
    Client *n8n.Client
    Path   string

    // sleep é trocável nos testes para não esperar segundos reais.
    sleep func(time.Duration)
}

// New cria o serviço de notificação apontando para o caminho de webhook dado.
func New(sqldb *sql.DB, client *n8n.Client, path string) *Service {
    return &Service{DB: sqldb, Client: client, Path: path, sleep: time.Sleep}
}

// Notify tenta entregar o payload até maxAttempts vezes. Se todas falham, a
// falha vai para webhook_failures e o erro NÃO sobe: a decisão do cliente já
// está persistida e não pode ser desfeita por um webhook fora do ar.
func (s *Service) Notify(ctx context.Context, payload map[string]any) {
    if s.Client == nil || !s.Client.Configured() {
        log.Printf("[WARN]  notify: webhook não configurado, enfileirando direto")
        s.enqueue(ctx, payload, "webhook not configured", 0)
        return
    }

    var lastErr error
    for attempt := 0; attempt < maxAttempts; attempt++ {
        if attempt > 0 {
            s.sleep(backoff(attempt - 1))
        }
        res, err := s.Client.PostJSON(ctx, s.Path, payload)
        if err == nil && res.OK() {
            if attempt > 0 {
                log.Printf("[INFO]  notify: entregue na tentativa %d", attempt+1)
            }
            return
        }
        if err == nil {
            err = fmt.Errorf("webhook respondeu status %d", res.StatusCode)
        }
        lastErr = err
        log.Printf("[WARN]  notify: tentativa %d/%d falhou: %v", attempt+1, maxAttempts, err)
    }
    s.enqueue(ctx, payload, lastErr.Error(), maxAttempts)
}

func (s *Service) enqueue(ctx context.Context, payload map[string]any, reason string, attempts int) {
    raw, err := json.Marshal(payload)
    if err != nil {
        log.Printf("[ERROR] notify: payload não serializável: %v", err)
        return
    }
    itemID, _ := payload["item_id"].(string)
    q := db.Rebind(`INSERT INTO webhook_failures (item_id, payload, error_message, attempts, status) VALUES (?,?,?,?,?)`)
    if _, err := s.DB.ExecContext(ctx, q, itemID, string(raw), reason, attempts, "pending"); err != nil {
        // Último recurso: pelo menos deixa o payload no log
        log.Printf("[ERROR] notify: falha ao enfileirar webhook_failure: %v payload=%s", err, raw)
        return
    }
    log.Printf("[WARN]  notify: webhook esgotado, falha registrada para retry manual")
}

// RetryPending reprocessa a fila de falhas. Cada entrada entregue vira
// status=delivered; as demais acumulam attempts. Devolve entregues/restantes.
func (s *Service) RetryPending(ctx context.Context) (delivered, remaining int, err error) {
    if s.Client == nil || !s.Client.Configured() {
        return 0, 0, errors.New("webhook não configurado")
    }
    q := db.Rebind(`SELECT id, payload, attempts FROM webhook_failures WHERE status = ? ORDER BY id`)
    rows, err := s.DB.QueryContext(ctx, q, "pending")
    if err != nil {
        return 0, 0, err
    }
    type failure struct {
        id       int64
        payload  string
        attempts int
    }
    var queue []failure
    for rows.Next() {
        var f failure
        if err := rows.Scan(&f.id, &f.payload, &f.attempts); err != nil {
            rows.Close()
            return 0, 0, err
        }
        queue = append(queue, f)
    }
    rows.Close()

    for _, f := range queue {
        var payload map[string]any
        if err := json.Unmarshal([]byte(f.payload), &payload); err != nil {
            log.Printf("[ERROR] notify retry: payload corrompido id=%d: %v", f.id, err)
            s.mark(ctx, f.id, "corrupt", f.attempts)
            remaining++
            continue
        }
        res, err := s.Client.PostJSON(ctx, s.Path, payload)
        if err == nil && res.OK() {
            s.mark(ctx, f.id, "delivered", f.attempts+1)
            delivered++
            continue
        }
        if err == nil {
            err = fmt.Errorf("status %d", res.StatusCode)
        }
        log.Printf("[WARN]  notify retry: id=%d falhou: %v", f.id, err)
        s.mark(ctx, f.id, "pending", f.attempts+1)
        remaining++
    }
    return delivered, remaining, nil
}

func (s *Service) mark(ctx context.Context, id int64, status string, attempts int) {
    q := db.Rebind(`UPDATE webhook_failures SET status = ?, attempts = ?, last_attempt_at = ? WHERE id = ?`)
    if _, err := s.DB.ExecContext(ctx, q, status, attempts, time.Now(), id); err != nil {
        log.Printf("[WARN]  notify: atualizar webhook_failure %d: %v", id, err)
    }
}

// PendingCount conta falhas pendentes (para o dashboard do jefe).
func (s *Service) PendingCount(ctx context.Context) (int, error) {
    var n int
    q := db.Rebind(`SELECT COUNT(*) FROM webhook_failures WHERE status = ?`)
    if err := s.DB.QueryRowContext(ctx, q, "pending").Scan(&n); err != nil {
        return 0, err
    }
    return n, nil
}

// DecisionPayload monta o corpo padrão da notificação de decisão.
func DecisionPayload(a *domain.RepairApproval, decision, via string, decidedAt time.Time) map[string]any {
    return map[string]any{
        "event":            "repair_decision",
        "item_id":          a.ItemID,
        "decision":         decision,
        "via":              via,
        "decided_at":       decidedAt.UTC().Format(time.RFC3339),
        "cliente_nombre":   a.ClienteNombre,
        "cliente_telefono": a.ClienteTelefono,
        "tipo_reparacion":  a.TipoReparacion,
        "valor_a_cobrar":   a.ValorACobrar,
    }
}
