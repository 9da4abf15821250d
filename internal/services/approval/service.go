// Caminho: internal/services/approval/service.go
// Resumo: Máquina de estados de aprovação de reparaciones: pending ->
// approved/rejected, exatamente uma vez, com gating por token ou por sessão
// de jefe (canal verbal/telefónico).

package approvalsvc

import (
    "context"
    "database/sql"
    "errors"
    "log"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
)

// Códigos de resultado de uma decisão.
const (
    CodeOK             = "OK"
    CodeNotFound       = "NOT_FOUND"
    CodeAlreadyDecided = "ALREADY_DECIDED"
    CodeExpired        = "EXPIRED"
    CodeInvalidToken   = "INVALID_TOKEN"
)

// DecideResult descreve o desfecho de uma tentativa de decisão.
// Status carrega o estado atual do registro, útil em ALREADY_DECIDED para a
// página mostrar uma mensagem informativa (quem pergunta já tem um link
// com cara de válido, não é vazamento).
type DecideResult struct {
    Code      string
    Status    string
    DecidedAt time.Time
}

// Service opera sobre a tabela repair_approvals.
type Service struct {
    DB          *sql.DB
    TokenExpiry time.Duration
}

// New cria o serviço de aprovaciones.
func New(sqldb *sql.DB, tokenExpiry time.Duration) *Service {
    return &Service{DB: sqldb, TokenExpiry: tokenExpiry}
}

// load lê o registro completo de uma aprovação.
func (s *Service) load(ctx context.Context, itemID string) (*domain.RepairApproval, error) {
    var (
        a          domain.RepairApproval
        decidedAt  sql.NullTime
        decidedVia sql.NullString
    )
    q := db.Rebind(`SELECT item_id, status, token_hash, token_expires_at, decided_at, decided_via,
        cliente_nombre, cliente_telefono, tipo_reparacion, serial_imei, valor_a_cobrar, reparado_a
        FROM repair_approvals WHERE item_id = ? LIMIT 1`)
    row := s.DB.QueryRowContext(ctx, q, itemID)
    err := row.Scan(&a.ItemID, &a.Status, &a.TokenHash, &a.TokenExpiresAt, &decidedAt, &decidedVia,
        &a.ClienteNombre, &a.ClienteTelefono, &a.TipoReparacion, &a.SerialIMEI, &a.ValorACobrar, &a.ReparadoA)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, domain.ErrNotFound
        }
        return nil, err
    }
    if decidedAt.Valid {
        a.DecidedAt = &decidedAt.Time
    }
    if decidedVia.Valid {
        a.DecidedVia = &decidedVia.String
    }
    return &a, nil
}

// Decide aplica a decisão do cliente gated por token.
// Ordem dos gates: existência -> já decidida -> expiração -> hash ->
// transição condicional. A transição usa UPDATE ... WHERE status='pending':
// sob corrida (double-tap), só o primeiro escritor vence; o perdedor recebe
// ALREADY_DECIDED.
func (s *Service) Decide(ctx context.Context, itemID, rawToken, decision, via string) (DecideResult, error) {
    a, err := s.load(ctx, itemID)
    if err != nil {
        if errors.Is(err, domain.ErrNotFound) {
            return DecideResult{Code: CodeNotFound}, nil
        }
        return DecideResult{}, err
    }
    if a.Status != domain.ApprovalPending {
        return DecideResult{Code: CodeAlreadyDecided, Status: a.Status}, nil
    }
    if ok, reason := ValidateToken(rawToken, a.TokenHash, a.TokenExpiresAt); !ok {
        if reason == ReasonExpired {
            return DecideResult{Code: CodeExpired}, nil
        }
        return DecideResult{Code: CodeInvalidToken}, nil
    }
    return s.transition(ctx, itemID, decision, via)
}

// DecideWithoutToken é o caminho administrativo: jefe marca aprobación
// verbal/telefónica sem token do cliente. Mesmos gates de existência e
// decisão única, mesma transição atômica.
func (s *Service) DecideWithoutToken(ctx context.Context, itemID, decision, via string) (DecideResult, error) {
    a, err := s.load(ctx, itemID)
    if err != nil {
        if errors.Is(err, domain.ErrNotFound) {
            return DecideResult{Code: CodeNotFound}, nil
        }
        return DecideResult{}, err
    }
    if a.Status != domain.ApprovalPending {
        return DecideResult{Code: CodeAlreadyDecided, Status: a.Status}, nil
    }
    return s.transition(ctx, itemID, decision, via)
}

func (s *Service) transition(ctx context.Context, itemID, decision, via string) (DecideResult, error) {
    now := time.Now()
    q := db.Rebind(`UPDATE repair_approvals SET status = ?, decided_at = ?, decided_via = ? WHERE item_id = ? AND status = ?`)
    res, err := s.DB.ExecContext(ctx, q, decision, now, via, itemID, domain.ApprovalPending)
    if err != nil {
        return DecideResult{}, err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        // Perdeu a corrida para uma decisão concorrente
        status := decision
        if a, err := s.load(ctx, itemID); err == nil {
            status = a.Status
        }
        return DecideResult{Code: CodeAlreadyDecided, Status: status}, nil
    }
    return DecideResult{Code: CodeOK, Status: decision, DecidedAt: now}, nil
}

// Get devolve o registro para a página pública, gated pelo token.
// Código NOT_FOUND vs INVALID_TOKEN é informação interna; a camada HTTP
// colapsa os dois na mesma resposta para impedir enumeração de itens.
func (s *Service) Get(ctx context.Context, itemID, rawToken string) (*domain.RepairApproval, string, error) {
    a, err := s.load(ctx, itemID)
    if err != nil {
        if errors.Is(err, domain.ErrNotFound) {
            return nil, CodeNotFound, nil
        }
        return nil, "", err
    }
    if ok, reason := ValidateToken(rawToken, a.TokenHash, a.TokenExpiresAt); !ok {
        if reason == ReasonExpired {
            return nil, CodeExpired, nil
        }
        return nil, CodeInvalidToken, nil
    }
    return a, CodeOK, nil
}

// Details carrega o registro sem gate de token, para uso interno
// (montagem do payload de notificação).
func (s *Service) Details(ctx context.Context, itemID string) (*domain.RepairApproval, error) {
    return s.load(ctx, itemID)
}

// RegisterInput são os campos descritivos da reparación que precisa de
// aprobación, vindos do workflow que a registrou.
type RegisterInput struct {
    ItemID          string
    ClienteNombre   string
    ClienteTelefono string
    TipoReparacion  string
    SerialIMEI      string
    ValorACobrar    float64
    ReparadoA       string
}

// Register cria (ou renova, se ainda pendiente) o registro de aprobación e
// devolve o token bruto gerado, a única vez que ele existe fora da URL.
// Registro já decidido não é renovável (CodeAlreadyDecided).
func (s *Service) Register(ctx context.Context, in RegisterInput) (GeneratedToken, string, error) {
    gen, err := GenerateToken(s.TokenExpiry)
    if err != nil {
        return GeneratedToken{}, "", err
    }

    existing, err := s.load(ctx, in.ItemID)
    switch {
    case errors.Is(err, domain.ErrNotFound):
        ins := db.Rebind(`INSERT INTO repair_approvals
            (item_id, status, token_hash, token_expires_at, cliente_nombre, cliente_telefono, tipo_reparacion, serial_imei, valor_a_cobrar, reparado_a)
            VALUES (?,?,?,?,?,?,?,?,?,?)`)
        if _, err := s.DB.ExecContext(ctx, ins, in.ItemID, domain.ApprovalPending, gen.TokenHash, gen.ExpiresAt,
            in.ClienteNombre, in.ClienteTelefono, in.TipoReparacion, in.SerialIMEI, in.ValorACobrar, in.ReparadoA); err != nil {
            return GeneratedToken{}, "", err
        }
        return gen, CodeOK, nil

    case err != nil:
        return GeneratedToken{}, "", err

    case existing.Status != domain.ApprovalPending:
        return GeneratedToken{}, CodeAlreadyDecided, nil

    default:
        // Pendiente: renova o token (reenvio de link) mantendo os campos novos
        upd := db.Rebind(`UPDATE repair_approvals SET token_hash = ?, token_expires_at = ?,
            cliente_nombre = ?, cliente_telefono = ?, tipo_reparacion = ?, serial_imei = ?, valor_a_cobrar = ?, reparado_a = ?
            WHERE item_id = ? AND status = ?`)
        if _, err := s.DB.ExecContext(ctx, upd, gen.TokenHash, gen.ExpiresAt,
            in.ClienteNombre, in.ClienteTelefono, in.TipoReparacion, in.SerialIMEI, in.ValorACobrar, in.ReparadoA,
            in.ItemID, domain.ApprovalPending); err != nil {
            return GeneratedToken{}, "", err
        }
        return gen, CodeOK, nil
    }
}

// LogEvent registra um evento de auditoria da reparación (melhor-esforço).
func (s *Service) LogEvent(ctx context.Context, itemID, eventType string, payload []byte) {
    q := db.Rebind(`INSERT INTO repair_events (item_id, event_type, payload) VALUES (?,?,?)`)
    if _, err := s.DB.ExecContext(ctx, q, itemID, eventType, string(payload)); err != nil {
        log.Printf("[WARN]  repair event log: %v", err)
    }
}
