// Caminho: internal/services/session/service.go
// Resumo: Serviço de autenticação de técnicos: login por PIN com rate limit e
// lockout, criação/validação/revogação de sessões server-side.

package sessionsvc

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"
    "golang.org/x/crypto/bcrypt"

    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
    "github.com/mrapple/tech-transfers-api/internal/kv"
)

// Service agrega dependências necessárias para autenticação de técnicos.
type Service struct {
    DB              *sql.DB
    SessionDuration time.Duration

    // Rate limit / lockout de login (via Redis; sem Redis, passa aberto)
    IPLimit       int64
    IPWindow      time.Duration
    LockThreshold int64
    LockTTL       time.Duration
}

// New cria uma instância do serviço de sessões.
func New(sqldb *sql.DB, sessionDuration time.Duration) *Service {
    return &Service{
        DB:              sqldb,
        SessionDuration: sessionDuration,
        IPLimit:         20,
        IPWindow:        5 * time.Minute,
        LockThreshold:   5,
        LockTTL:         15 * time.Minute,
    }
}

// Login valida o PIN contra os técnicos ativos e cria uma sessão.
// Retorna domain.ErrRateLimited quando o IP estourou a janela ou está em
// lockout por falhas; domain.ErrInvalidCredentials quando nenhum técnico
// ativo corresponde ao PIN. O PIN nunca é logado.
func (s *Service) Login(ctx context.Context, pin, ip, userAgent string) (*domain.Tecnico, string, error) {
    if locked, _ := kv.IsLocked(ctx, "lock:login:ip:"+ip); locked {
        return nil, "", domain.ErrRateLimited
    }
    if ok, _, _ := kv.AllowRate(ctx, "rl:login:ip:"+ip, s.IPLimit, s.IPWindow); !ok {
        return nil, "", domain.ErrRateLimited
    }

    tec, err := s.matchPIN(ctx, pin)
    if err != nil {
        return nil, "", err
    }
    if tec == nil {
        // Incrementa falhas por IP e aplica lock ao atingir o limiar
        if _, n, _ := kv.AllowRate(ctx, "rl:loginfail:ip:"+ip, s.LockThreshold, s.LockTTL); n >= s.LockThreshold {
            _ = kv.SetLock(ctx, "lock:login:ip:"+ip, s.LockTTL)
        }
        return nil, "", domain.ErrInvalidCredentials
    }

    // Sucesso: zera contadores de falha do IP
    kv.Del(ctx, "rl:loginfail:ip:"+ip, "lock:login:ip:"+ip)

    sessionID := uuid.NewString()
    expires := time.Now().Add(s.SessionDuration)
    ins := db.Rebind(`INSERT INTO tecnico_sessions (session_id, tecnico_id, ip, user_agent, expires_at) VALUES (?,?,?,?,?)`)
    if _, err := s.DB.ExecContext(ctx, ins, sessionID, tec.ID, ip, userAgent, expires); err != nil {
        return nil, "", fmt.Errorf("insert session: %w", err)
    }
    return tec, sessionID, nil
}

// matchPIN compara o PIN com os hashes de todos os técnicos ativos.
// O login é só por PIN (sem username), então o custo é proporcional ao
// número de técnicos ativos, que numa oficina é um punhado.
func (s *Service) matchPIN(ctx context.Context, pin string) (*domain.Tecnico, error) {
    q := db.Rebind(`SELECT id, nombre, pin_hash, rol, activo, puede_ver_equipo, monday_status_value FROM tecnicos WHERE activo = TRUE`)
    rows, err := s.DB.QueryContext(ctx, q)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    for rows.Next() {
        var t domain.Tecnico
        if err := rows.Scan(&t.ID, &t.Nombre, &t.PINHash, &t.Rol, &t.Activo, &t.PuedeVerEquipo, &t.MondayStatusValue); err != nil {
            return nil, err
        }
        if bcrypt.CompareHashAndPassword([]byte(t.PINHash), []byte(pin)) == nil {
            return &t, nil
        }
    }
    return nil, rows.Err()
}

// Validate inspeciona um identificador de sessão e devolve o Principal, ou nil.
// Gate barato de formato (UUID) antes de tocar o banco; qualquer erro de
// transporte/armazenamento é tratado como "sem sessão" (fail closed).
func (s *Service) Validate(ctx context.Context, sessionID, ip, userAgent string) *domain.Principal {
    if !isUUID(sessionID) {
        return nil
    }

    var (
        p         domain.Principal
        expiresAt time.Time
        revokedAt sql.NullTime
        activo    bool
    )
    q := db.Rebind(`SELECT t.id, t.nombre, t.rol, t.puede_ver_equipo, t.monday_status_value, t.activo, s.expires_at, s.revoked_at
        FROM tecnico_sessions s
        JOIN tecnicos t ON t.id = s.tecnico_id
        WHERE s.session_id = ?
        LIMIT 1`)
    row := s.DB.QueryRowContext(ctx, q, sessionID)
    if err := row.Scan(&p.TecnicoID, &p.Nombre, &p.Rol, &p.PuedeVerEquipo, &p.MondayStatusValue, &activo, &expiresAt, &revokedAt); err != nil {
        if !errors.Is(err, sql.ErrNoRows) {
            log.Printf("[WARN]  session validate: %v", err)
        }
        return nil
    }
    if !activo || revokedAt.Valid || time.Now().After(expiresAt) {
        return nil
    }

    // Bookkeeping de último acesso (melhor-esforço; IP/UA ficam para
    // análise de anomalias, mismatch não derruba a sessão)
    touch := db.Rebind(`UPDATE tecnico_sessions SET last_seen_at = ?, last_ip = ?, last_user_agent = ? WHERE session_id = ?`)
    if _, err := s.DB.ExecContext(ctx, touch, time.Now(), ip, userAgent, sessionID); err != nil {
        log.Printf("[WARN]  session touch: %v", err)
    }
    return &p
}

// Revoke revoga uma sessão (logout). Identificador malformado é ignorado.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
    if !isUUID(sessionID) {
        return nil
    }
    q := db.Rebind(`UPDATE tecnico_sessions SET revoked_at = ? WHERE session_id = ? AND revoked_at IS NULL`)
    _, err := s.DB.ExecContext(ctx, q, time.Now(), sessionID)
    return err
}

// TecnicoResumo é a projeção mínima para o dropdown de transferência.
type TecnicoResumo struct {
    ID     string `json:"id"`
    Nombre string `json:"nombre"`
}

// ActiveTecnicos lista técnicos ativos (rol tecnico) ordenados por nome.
func (s *Service) ActiveTecnicos(ctx context.Context) ([]TecnicoResumo, error) {
    q := db.Rebind(`SELECT id, nombre FROM tecnicos WHERE activo = TRUE AND rol = ? ORDER BY nombre ASC`)
    rows, err := s.DB.QueryContext(ctx, q, domain.RolTecnico)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    list := make([]TecnicoResumo, 0, 8)
    for rows.Next() {
        var t TecnicoResumo
        if err := rows.Scan(&t.ID, &t.Nombre); err != nil {
            return nil, err
        }
        list = append(list, t)
    }
    return list, rows.Err()
}

// isUUID aplica o gate estrito de formato (36 chars, layout 8-4-4-4-12).
func isUUID(s string) bool {
    if len(s) != 36 {
        return false
    }
    _, err := uuid.Parse(s)
    return err == nil
}
