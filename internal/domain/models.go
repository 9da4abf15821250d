// Caminho: internal/domain/models.go
// Resumo: Modelos de domínio e erros centrais do sistema (Técnico, Sessão, Idempotência, Aprovação).

package domain

import (
    "errors"
    "time"
)

// Tecnico representa um técnico ou jefe da oficina.
// O PIN é armazenado apenas como hash bcrypt; MondayStatusValue é o rótulo
// usado para comparar custódia no board do Monday.
type Tecnico struct {
    ID                string
    Nombre            string
    PINHash           string
    Rol               string // "tecnico" | "jefe"
    Activo            bool
    PuedeVerEquipo    bool
    MondayStatusValue string
    CreatedAt         time.Time
}

// Papéis válidos de técnico.
const (
    RolTecnico = "tecnico"
    RolJefe    = "jefe"
)

// Principal é a identidade autenticada anexada a uma requisição após
// validação da sessão. Nunca derivada de campos do cliente.
type Principal struct {
    TecnicoID         string `json:"id"`
    Nombre            string `json:"nombre"`
    Rol               string `json:"rol"`
    PuedeVerEquipo    bool   `json:"puede_ver_equipo"`
    MondayStatusValue string `json:"-"`
}

// TecnicoSession representa uma sessão server-side de técnico.
type TecnicoSession struct {
    ID        int64
    SessionID string
    TecnicoID string
    IP        string
    UserAgent string
    ExpiresAt time.Time
    RevokedAt *time.Time
    CreatedAt time.Time
}

// Estados de um registro de idempotência.
const (
    IdemProcessing = "processing"
    IdemSucceeded  = "succeeded"
    IdemFailed     = "failed"
)

// Escopos de idempotência por operação.
const (
    ScopeTransferPhone  = "transfer_phone"
    ScopeRepairStatus   = "repair_status"
    ScopeTransferRepair = "transfer_repair"
)

// IdempotencyRecord mapeia (request_key, scope) para o estado de processamento
// e a resposta cacheada quando bem-sucedido.
type IdempotencyRecord struct {
    RequestKey string
    Scope      string
    Status     string
    Response   []byte
    TecnicoID  string
    CreatedAt  time.Time
    SettledAt  *time.Time
}

// Estados de uma aprovação de reparación.
const (
    ApprovalPending  = "pending"
    ApprovalApproved = "approved"
    ApprovalRejected = "rejected"
)

// Canais pelos quais uma decisão foi registrada.
const (
    ViaWeb    = "web"
    ViaVerbal = "verbal"
    ViaPhone  = "phone"
)

// RepairApproval é o registro persistido da decisão pendiente/aprobada/rechazada
// de um cliente sobre uma reparación. O token bruto nunca é persistido.
type RepairApproval struct {
    ItemID          string
    Status          string
    TokenHash       string
    TokenExpiresAt  time.Time
    DecidedAt       *time.Time
    DecidedVia      *string
    ClienteNombre   string
    ClienteTelefono string
    TipoReparacion  string
    SerialIMEI      string
    ValorACobrar    float64
    ReparadoA       string
    CreatedAt       time.Time
}

// WebhookFailure é uma entrada da fila durável de notificações que esgotaram
// os retries; fica pendente para reenvio manual ou agendado.
type WebhookFailure struct {
    ID            int64
    ItemID        string
    Payload       []byte
    ErrorMessage  string
    Attempts      int
    Status        string // "pending" | "sent"
    LastAttemptAt time.Time
    CreatedAt     time.Time
}

// Erros comuns de domínio.
var (
    ErrInvalidCredentials = errors.New("invalid credentials")
    ErrRateLimited        = errors.New("rate limited")
    ErrUnauthorized       = errors.New("unauthorized")
    ErrNotFound           = errors.New("not found")
)
