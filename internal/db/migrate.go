// Caminho: internal/db/migrate.go
// Resumo: Migrações mínimas para criar as tabelas do core (técnicos, sessões,
// idempotência, aprovaciones, fila de falhas de webhook, logs e eventos).

package db

import (
    "context"
    "database/sql"
)

// Migrate aplica o schema mínimo necessário para operação do serviço.
func Migrate(ctx context.Context, sqldb *sql.DB) error {
    var stmts []string
    if IsPostgres() {
        stmts = []string{
            `CREATE TABLE IF NOT EXISTS tecnicos (
                id TEXT PRIMARY KEY,
                nombre TEXT NOT NULL UNIQUE,
                pin_hash TEXT NOT NULL,
                rol TEXT NOT NULL DEFAULT 'tecnico',
                activo BOOLEAN NOT NULL DEFAULT TRUE,
                puede_ver_equipo BOOLEAN NOT NULL DEFAULT FALSE,
                monday_status_value TEXT NOT NULL DEFAULT '',
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            );`,
            `CREATE TABLE IF NOT EXISTS tecnico_sessions (
                id BIGSERIAL PRIMARY KEY,
                session_id TEXT NOT NULL UNIQUE,
                tecnico_id TEXT NOT NULL REFERENCES tecnicos(id),
                ip TEXT NULL,
                user_agent TEXT NULL,
                expires_at TIMESTAMPTZ NOT NULL,
                revoked_at TIMESTAMPTZ NULL,
                last_seen_at TIMESTAMPTZ NULL,
                last_ip TEXT NULL,
                last_user_agent TEXT NULL,
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            );`,
            `CREATE INDEX IF NOT EXISTS idx_tecnico_sessions_tecnico_id ON tecnico_sessions(tecnico_id);`,
            // Idempotência: a constraint única em (request_key, scope) é o que
            // garante atomicidade do claim sob concorrência.
            `CREATE TABLE IF NOT EXISTS idempotency_records (
                request_key TEXT NOT NULL,
                scope TEXT NOT NULL,
                status TEXT NOT NULL DEFAULT 'processing',
                response TEXT NULL,
                tecnico_id TEXT NULL,
                claim_epoch BIGINT NOT NULL DEFAULT 0,
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
                settled_at TIMESTAMPTZ NULL,
                PRIMARY KEY (request_key, scope)
            );`,
            // Aprovaciones: armazenamos apenas o hash do token
            `CREATE TABLE IF NOT EXISTS repair_approvals (
                item_id TEXT PRIMARY KEY,
                status TEXT NOT NULL DEFAULT 'pending',
                token_hash TEXT NOT NULL,
                token_expires_at TIMESTAMPTZ NOT NULL,
                decided_at TIMESTAMPTZ NULL,
                decided_via TEXT NULL,
                cliente_nombre TEXT NOT NULL DEFAULT '',
                cliente_telefono TEXT NOT NULL DEFAULT '',
                tipo_reparacion TEXT NOT NULL DEFAULT '',
                serial_imei TEXT NOT NULL DEFAULT '',
                valor_a_cobrar NUMERIC NOT NULL DEFAULT 0,
                reparado_a TEXT NOT NULL DEFAULT '',
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            );`,
            `CREATE TABLE IF NOT EXISTS webhook_failures (
                id BIGSERIAL PRIMARY KEY,
                item_id TEXT NOT NULL,
                payload TEXT NOT NULL,
                error_message TEXT NULL,
                attempts INTEGER NOT NULL DEFAULT 0,
                status TEXT NOT NULL DEFAULT 'pending',
                last_attempt_at TIMESTAMPTZ NULL,
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            );`,
            `CREATE INDEX IF NOT EXISTS idx_webhook_failures_status ON webhook_failures(status);`,
            // Escrita feita pelo workflow do n8n; o core apenas lê (dashboard)
            `CREATE TABLE IF NOT EXISTS transfer_logs (
                id BIGSERIAL PRIMARY KEY,
                item_id TEXT NOT NULL,
                tecnico_origen TEXT NOT NULL,
                tecnico_destino TEXT NULL,
                tiene_foto BOOLEAN NOT NULL DEFAULT FALSE,
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            );`,
            `CREATE INDEX IF NOT EXISTS idx_transfer_logs_created_at ON transfer_logs(created_at);`,
            `CREATE TABLE IF NOT EXISTS repair_events (
                id BIGSERIAL PRIMARY KEY,
                item_id TEXT NOT NULL,
                event_type TEXT NOT NULL,
                payload TEXT NULL,
                created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            );`,
            `CREATE INDEX IF NOT EXISTS idx_repair_events_item_id ON repair_events(item_id);`,
        }
    } else {
        stmts = []string{
            `CREATE TABLE IF NOT EXISTS tecnicos (
                id TEXT PRIMARY KEY,
                nombre TEXT NOT NULL UNIQUE,
                pin_hash TEXT NOT NULL,
                rol TEXT NOT NULL DEFAULT 'tecnico',
                activo BOOLEAN NOT NULL DEFAULT 1,
                puede_ver_equipo BOOLEAN NOT NULL DEFAULT 0,
                monday_status_value TEXT NOT NULL DEFAULT '',
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
            );`,
            `CREATE TABLE IF NOT EXISTS tecnico_sessions (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                session_id TEXT NOT NULL,
                tecnico_id TEXT NOT NULL,
                ip TEXT NULL,
                user_agent TEXT NULL,
                expires_at TIMESTAMP NOT NULL,
                revoked_at TIMESTAMP NULL,
                last_seen_at TIMESTAMP NULL,
                last_ip TEXT NULL,
                last_user_agent TEXT NULL,
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
                UNIQUE(session_id),
                FOREIGN KEY(tecnico_id) REFERENCES tecnicos(id)
            );`,
            `CREATE INDEX IF NOT EXISTS idx_tecnico_sessions_tecnico_id ON tecnico_sessions(tecnico_id);`,
            `CREATE TABLE IF NOT EXISTS idempotency_records (
                request_key TEXT NOT NULL,
                scope TEXT NOT NULL,
                status TEXT NOT NULL DEFAULT 'processing',
                response TEXT NULL,
                tecnico_id TEXT NULL,
                claim_epoch INTEGER NOT NULL DEFAULT 0,
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
                settled_at TIMESTAMP NULL,
                PRIMARY KEY (request_key, scope)
            );`,
            `CREATE TABLE IF NOT EXISTS repair_approvals (
                item_id TEXT PRIMARY KEY,
                status TEXT NOT NULL DEFAULT 'pending',
                token_hash TEXT NOT NULL,
                token_expires_at TIMESTAMP NOT NULL,
                decided_at TIMESTAMP NULL,
                decided_via TEXT NULL,
                cliente_nombre TEXT NOT NULL DEFAULT '',
                cliente_telefono TEXT NOT NULL DEFAULT '',
                tipo_reparacion TEXT NOT NULL DEFAULT '',
                serial_imei TEXT NOT NULL DEFAULT '',
                valor_a_cobrar REAL NOT NULL DEFAULT 0,
                reparado_a TEXT NOT NULL DEFAULT '',
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
            );`,
            `CREATE TABLE IF NOT EXISTS webhook_failures (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                item_id TEXT NOT NULL,
                payload TEXT NOT NULL,
                error_message TEXT NULL,
                attempts INTEGER NOT NULL DEFAULT 0,
                status TEXT NOT NULL DEFAULT 'pending',
                last_attempt_at TIMESTAMP NULL,
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
            );`,
            `CREATE INDEX IF NOT EXISTS idx_webhook_failures_status ON webhook_failures(status);`,
            `CREATE TABLE IF NOT EXISTS transfer_logs (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                item_id TEXT NOT NULL,
                tecnico_origen TEXT NOT NULL,
                tecnico_destino TEXT NULL,
                tiene_foto BOOLEAN NOT NULL DEFAULT 0,
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
            );`,
            `CREATE INDEX IF NOT EXISTS idx_transfer_logs_created_at ON transfer_logs(created_at);`,
            `CREATE TABLE IF NOT EXISTS repair_events (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                item_id TEXT NOT NULL,
                event_type TEXT NOT NULL,
                payload TEXT NULL,
                created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
            );`,
            `CREATE INDEX IF NOT EXISTS idx_repair_events_item_id ON repair_events(item_id);`,
        }
    }

    for _, s := range stmts {
        if _, err := sqldb.ExecContext(ctx, s); err != nil {
            return err
        }
    }
    return nil
}
