// Caminho: cmd/devseed/main.go
// Resumo: Utilitário de desenvolvimento: cria técnicos de exemplo (PINs em
// bcrypt), logs de transferência do mês e uma aprobación pendiente, imprimindo
// a URL pública tokenizada.

package main

import (
    "context"
    "database/sql"
    "fmt"
    "log"
    "os"
    "time"

    "github.com/google/uuid"
    "github.com/joho/godotenv"
    "golang.org/x/crypto/bcrypt"

    "github.com/mrapple/tech-transfers-api/internal/config"
    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
    approvalsvc "github.com/mrapple/tech-transfers-api/internal/services/approval"
)

type seedTecnico struct {
    nombre      string
    pin         string
    rol         string
    verEquipo   bool
    statusValue string
}

func main() {
    _ = godotenv.Load()
    cfg := config.Load()

    dbURL := cfg.DatabaseURL
    if dbURL == "" {
        dbURL = os.Getenv("DATABASE_URL")
    }
    sqldb, err := db.Connect(dbURL)
    if err != nil {
        log.Fatalf("db connect: %v", err)
    }
    if err := db.Migrate(context.Background(), sqldb); err != nil {
        log.Fatalf("migrate: %v", err)
    }

    seedTecnicos(sqldb)
    seedTransferLogs(sqldb)

    approvals := approvalsvc.New(sqldb, time.Duration(cfg.TokenExpiryHours)*time.Hour)
    gen, code, err := approvals.Register(context.Background(), approvalsvc.RegisterInput{
        ItemID:          "9000001",
        ClienteNombre:   "María García",
        ClienteTelefono: "+34 600 000 001",
        TipoReparacion:  "Cambio de pantalla",
        SerialIMEI:      "356938035643809",
        ValorACobrar:    120,
        ReparadoA:       "iPhone 13",
    })
    if err != nil {
        log.Fatalf("seed approval: %v", err)
    }
    if code == approvalsvc.CodeOK {
        fmt.Println("APPROVAL_URL=", approvalsvc.BuildApprovalURL(cfg.PublicBaseURL, "9000001", gen.Token))
    } else {
        log.Printf("approval 9000001 já decidida, token não renovado")
    }
}

func seedTecnicos(sqldb *sql.DB) {
    tecnicos := []seedTecnico{
        {nombre: "Carlos", pin: "1111", rol: domain.RolTecnico, statusValue: "Carlos"},
        {nombre: "Lucía", pin: "2222", rol: domain.RolTecnico, verEquipo: true, statusValue: "Lucía"},
        {nombre: "Pedro", pin: "9999", rol: domain.RolJefe, verEquipo: true, statusValue: "Pedro"},
    }
    for _, t := range tecnicos {
        var count int
        _ = sqldb.QueryRow(db.Rebind(`SELECT COUNT(1) FROM tecnicos WHERE nombre = ?`), t.nombre).Scan(&count)
        if count > 0 {
            log.Printf("técnico '%s' já existe, pulando", t.nombre)
            continue
        }
        hash, _ := bcrypt.GenerateFromPassword([]byte(t.pin), bcrypt.DefaultCost)
        q := db.Rebind(`INSERT INTO tecnicos (id, nombre, pin_hash, rol, activo, puede_ver_equipo, monday_status_value) VALUES (?,?,?,?,?,?,?)`)
        if _, err := sqldb.Exec(q, uuid.NewString(), t.nombre, string(hash), t.rol, true, t.verEquipo, t.statusValue); err != nil {
            log.Fatalf("seed tecnico %s: %v", t.nombre, err)
        }
        log.Printf("técnico '%s' criado (PIN %s)", t.nombre, t.pin)
    }
}

func seedTransferLogs(sqldb *sql.DB) {
    var count int
    _ = sqldb.QueryRow(`SELECT COUNT(1) FROM transfer_logs`).Scan(&count)
    if count > 0 {
        log.Printf("transfer_logs já populada, pulando")
        return
    }
    now := time.Now()
    q := db.Rebind(`INSERT INTO transfer_logs (item_id, tecnico_origen, tecnico_destino, tiene_foto, created_at) VALUES (?,?,?,?,?)`)
    for i := 0; i < 12; i++ {
        createdAt := now.AddDate(0, 0, -i)
        if _, err := sqldb.Exec(q, fmt.Sprintf("80000%02d", i), "Carlos", "Lucía", i%3 != 0, createdAt); err != nil {
            log.Fatalf("seed transfer log: %v", err)
        }
    }
    log.Printf("12 transferências de exemplo criadas")
}
