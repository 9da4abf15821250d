// Caminho: internal/db/dsn.go
// Resumo: Utilidades para interpretar DATABASE_URL e produzir DSN apropriado para drivers suportados.

package db

import (
    "fmt"
    "net/url"
    "strings"
)

// Driver representa os drivers suportados.
type Driver string

const (
    DriverSQLite   Driver = "sqlite"
    DriverPostgres Driver = "pgx"
)

// ParseDSN interpreta DATABASE_URL e retorna o driver e o DSN compatível com database/sql.
// Suporta esquemas: sqlite:///path.db e postgres://...
func ParseDSN(databaseURL string) (Driver, string) {
    if databaseURL == "" {
        // Default para SQLite em arquivo local
        return DriverSQLite, "file:tech_transfers.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
    }

    // Normaliza casos comuns (ex.: "sqlite:///tmp/file.db")
    if strings.HasPrefix(databaseURL, "sqlite://") {
        return DriverSQLite, fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", sqlitePath(databaseURL))
    }

    if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
        // pgx aceita DSN URL nativamente
        return DriverPostgres, databaseURL
    }

    // Tenta parsear como URL genericamente para decidir
    if u, err := url.Parse(databaseURL); err == nil && u.Scheme != "" {
        switch u.Scheme {
        case "sqlite":
            return DriverSQLite, fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", sqlitePath(databaseURL))
        case "postgres", "postgresql":
            return DriverPostgres, databaseURL
        }
    }

    // Fallback: tratar como caminho de arquivo SQLite
    return DriverSQLite, fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", databaseURL)
}

// sqlitePath extrai o caminho de uma URL sqlite:// preservando caminhos
// absolutos: "sqlite:///tmp/x.db" -> "/tmp/x.db", "sqlite://rel.db" ->
// "rel.db". Barras extras de autoridade vazia são colapsadas em uma.
func sqlitePath(databaseURL string) string {
    p := strings.TrimPrefix(databaseURL, "sqlite://")
    for strings.HasPrefix(p, "//") {
        p = p[1:]
    }
    return p
}
