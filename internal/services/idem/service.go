// Caminho: internal/services/idem/service.go
// Resumo: Ledger de idempotência: claim/succeed/fail por (request_key, scope).
// Evita processamento duplicado em double-click e retries de rede.

package idemsvc

import (
    "context"
    "database/sql"
    "errors"
    "log"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
)

// StaleAfter é o tempo após o qual um registro `processing` é considerado
// abandonado (requisição morreu sem succeed/fail) e volta a ser reclamável.
// Excede com folga todos os timeouts de saída do serviço.
const StaleAfter = 5 * time.Minute

// ClaimResult é o resultado de um claim.
type ClaimResult struct {
    AlreadyProcessed bool
    Status           string
    Response         []byte // resposta cacheada, presente quando succeeded
}

// Service opera sobre a tabela idempotency_records.
type Service struct {
    DB *sql.DB
}

// New cria o serviço de idempotência.
func New(sqldb *sql.DB) *Service { return &Service{DB: sqldb} }

// Claim tenta reivindicar uma chave de idempotência. Chave vazia desliga a
// proteção (compatibilidade com clientes que ainda não enviam chave).
//
//   - novo registro            -> {AlreadyProcessed: false}: prossiga
//   - succeeded                -> {AlreadyProcessed: true, Response}: responda o cache, sem nova mutação
//   - processing em andamento  -> {AlreadyProcessed: true, Status: processing}: responda 409
//   - failed ou processing velho -> retomado atomicamente como novo
//
// Se o ledger estiver inacessível, falha aberto (trata como novo): um
// duplicado ocasional é preferível a indisponibilidade total.
func (s *Service) Claim(ctx context.Context, key, scope, tecnicoID string) ClaimResult {
    if key == "" {
        return ClaimResult{Status: domain.IdemProcessing}
    }

    now := time.Now()
    ins := db.Rebind(`INSERT INTO idempotency_records (request_key, scope, status, tecnico_id, claim_epoch, created_at) VALUES (?,?,?,?,?,?)`)
    if _, err := s.DB.ExecContext(ctx, ins, key, scope, domain.IdemProcessing, tecnicoID, now.UnixNano(), now); err == nil {
        return ClaimResult{Status: domain.IdemProcessing}
    }

    // Insert falhou: ou a chave já existe (caminho normal) ou o ledger caiu.
    var (
        status   string
        response sql.NullString
        epoch    int64
    )
    sel := db.Rebind(`SELECT status, response, claim_epoch FROM idempotency_records WHERE request_key = ? AND scope = ? LIMIT 1`)
    row := s.DB.QueryRowContext(ctx, sel, key, scope)
    if err := row.Scan(&status, &response, &epoch); err != nil {
        if !errors.Is(err, sql.ErrNoRows) {
            log.Printf("[WARN]  idem claim: ledger indisponível, seguindo sem proteção: %v", err)
        }
        return ClaimResult{Status: domain.IdemProcessing}
    }

    switch status {
    case domain.IdemSucceeded:
        var resp []byte
        if response.Valid {
            resp = []byte(response.String)
        }
        return ClaimResult{AlreadyProcessed: true, Status: domain.IdemSucceeded, Response: resp}

    case domain.IdemFailed:
        // Retry após falha é permitido: retoma o registro atomicamente.
        if s.retake(ctx, key, scope, tecnicoID, domain.IdemFailed, epoch, now) {
            return ClaimResult{Status: domain.IdemProcessing}
        }
        return ClaimResult{AlreadyProcessed: true, Status: domain.IdemProcessing}

    default: // processing
        if now.Sub(time.Unix(0, epoch)) > StaleAfter {
            if s.retake(ctx, key, scope, tecnicoID, domain.IdemProcessing, epoch, now) {
                return ClaimResult{Status: domain.IdemProcessing}
            }
        }
        return ClaimResult{AlreadyProcessed: true, Status: domain.IdemProcessing}
    }
}

// retake tenta retomar um registro em estado terminal/abandonado com um
// update condicional (CAS sobre status+claim_epoch): só um concorrente
// vence. O epoch é um inteiro unix-nano, comparável por igualdade em
// qualquer driver, diferente de timestamps serializados como texto.
func (s *Service) retake(ctx context.Context, key, scope, tecnicoID, fromStatus string, fromEpoch int64, now time.Time) bool {
    q := db.Rebind(`UPDATE idempotency_records
        SET status = ?, tecnico_id = ?, response = NULL, settled_at = NULL, claim_epoch = ?, created_at = ?
        WHERE request_key = ? AND scope = ? AND status = ? AND claim_epoch = ?`)
    res, err := s.DB.ExecContext(ctx, q, domain.IdemProcessing, tecnicoID, now.UnixNano(), now, key, scope, fromStatus, fromEpoch)
    if err != nil {
        log.Printf("[WARN]  idem retake: %v", err)
        return false
    }
    n, _ := res.RowsAffected()
    return n == 1
}

// Succeed transiciona processing -> succeeded, guardando a resposta verbatim
// para replay futuro. Melhor-esforço: erro aqui não derruba a operação.
func (s *Service) Succeed(ctx context.Context, key, scope string, response []byte) {
    if key == "" {
        return
    }
    q := db.Rebind(`UPDATE idempotency_records SET status = ?, response = ?, settled_at = ? WHERE request_key = ? AND scope = ? AND status = ?`)
    if _, err := s.DB.ExecContext(ctx, q, domain.IdemSucceeded, string(response), time.Now(), key, scope, domain.IdemProcessing); err != nil {
        log.Printf("[WARN]  idem succeed: %v", err)
    }
}

// Fail transiciona processing -> failed. Um registro failed não bloqueia
// retry com a mesma chave (ver Claim).
func (s *Service) Fail(ctx context.Context, key, scope string, errPayload []byte) {
    if key == "" {
        return
    }
    q := db.Rebind(`UPDATE idempotency_records SET status = ?, response = ?, settled_at = ? WHERE request_key = ? AND scope = ? AND status = ?`)
    if _, err := s.DB.ExecContext(ctx, q, domain.IdemFailed, string(errPayload), time.Now(), key, scope, domain.IdemProcessing); err != nil {
        log.Printf("[WARN]  idem fail: %v", err)
    }
}
