// Caminho: internal/db/dsn_test.go
// Resumo: Testes do parsing de DATABASE_URL, em especial a preservação de
// caminhos absolutos em URLs sqlite://.

package db

import (
    "context"
    "path/filepath"
    "strings"
    "testing"
)

func TestParseDSNSQLiteAbsolutePath(t *testing.T) {
    drv, dsn := ParseDSN("sqlite:///tmp/oficina/test.db")
    if drv != DriverSQLite {
        t.Fatalf("driver = %s", drv)
    }
    if !strings.HasPrefix(dsn, "file:/tmp/oficina/test.db?") {
        t.Errorf("caminho absoluto mutilado: %s", dsn)
    }
}

func TestParseDSNSQLiteRelativePath(t *testing.T) {
    _, dsn := ParseDSN("sqlite://datos.db")
    if !strings.HasPrefix(dsn, "file:datos.db?") {
        t.Errorf("caminho relativo: %s", dsn)
    }
}

func TestParseDSNSQLiteExtraSlashes(t *testing.T) {
    _, dsn := ParseDSN("sqlite:////var/db/x.db")
    if !strings.HasPrefix(dsn, "file:/var/db/x.db?") {
        t.Errorf("barras extras: %s", dsn)
    }
}

func TestParseDSNPostgres(t *testing.T) {
    drv, dsn := ParseDSN("postgres://u:p@localhost:5432/app")
    if drv != DriverPostgres || dsn != "postgres://u:p@localhost:5432/app" {
        t.Errorf("postgres: %s %s", drv, dsn)
    }
}

// Connect com diretório temporário cobre o caminho completo URL -> arquivo.
func TestConnectSQLiteTempDir(t *testing.T) {
    conn, err := Connect("sqlite://" + filepath.Join(t.TempDir(), "x.db"))
    if err != nil {
        t.Fatalf("connect: %v", err)
    }
    defer conn.Close()
    if err := Migrate(context.Background(), conn); err != nil {
        t.Fatalf("migrate: %v", err)
    }
}
