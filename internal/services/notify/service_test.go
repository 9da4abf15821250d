// Caminho: internal/services/notify/service_test.go
// Resumo: Testes de entrega de notificações: retries, fila de falhas e retry manual.

package notifysvc

import (
    "context"
    "net/http"
    "net/http/httptest"
    "path/filepath"
    "sync/atomic"
    "testing"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/n8n"
)

func newTestService(t *testing.T, base string) *Service {
    t.Helper()
    conn, err := db.Connect("sqlite://" + filepath.Join(t.TempDir(), "notify.db"))
    if err != nil {
        t.Fatalf("connect: %v", err)
    }
    t.Cleanup(func() { conn.Close() })
    if err := db.Migrate(context.Background(), conn); err != nil {
        t.Fatalf("migrate: %v", err)
    }
    s := New(conn, n8n.New(base, 2*time.Second), "/repair-approval-notify")
    s.sleep = func(time.Duration) {} // sem backoff real nos testes
    return s
}

func pendingFailures(t *testing.T, s *Service) int {
    t.Helper()
    n, err := s.PendingCount(context.Background())
    if err != nil {
        t.Fatalf("pending count: %v", err)
    }
    return n
}

func TestNotifyDelivers(t *testing.T) {
    var calls int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&calls, 1)
        w.Write([]byte(`{"success":true}`))
    }))
    defer srv.Close()

    s := newTestService(t, srv.URL)
    s.Notify(context.Background(), map[string]any{"item_id": "1", "decision": "approved"})

    if got := atomic.LoadInt32(&calls); got != 1 {
        t.Errorf("calls = %d", got)
    }
    if n := pendingFailures(t, s); n != 0 {
        t.Errorf("falhas enfileiradas sem motivo: %d", n)
    }
}

// Duas falhas e um sucesso: entrega na terceira tentativa, nada enfileirado.
func TestNotifyRetriesThenSucceeds(t *testing.T) {
    var calls int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if atomic.AddInt32(&calls, 1) < 3 {
            w.WriteHeader(http.StatusBadGateway)
            return
        }
        w.Write([]byte(`{"success":true}`))
    }))
    defer srv.Close()

    s := newTestService(t, srv.URL)
    s.Notify(context.Background(), map[string]any{"item_id": "2"})

    if got := atomic.LoadInt32(&calls); got != 3 {
        t.Errorf("calls = %d, esperado 3", got)
    }
    if n := pendingFailures(t, s); n != 0 {
        t.Errorf("falhas enfileiradas: %d", n)
    }
}

// Esgotados os retries, o payload vai para a fila durável.
func TestNotifyExhaustedGoesToQueue(t *testing.T) {
    var calls int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&calls, 1)
        w.WriteHeader(http.StatusInternalServerError)
    }))
    defer srv.Close()

    s := newTestService(t, srv.URL)
    s.Notify(context.Background(), map[string]any{"item_id": "3", "decision": "rejected"})

    if got := atomic.LoadInt32(&calls); got != 3 {
        t.Errorf("calls = %d, esperado 3", got)
    }
    if n := pendingFailures(t, s); n != 1 {
        t.Fatalf("fila = %d, esperado 1", n)
    }

    var itemID string
    row := s.DB.QueryRow(db.Rebind(`SELECT item_id FROM webhook_failures WHERE status = ?`), "pending")
    if err := row.Scan(&itemID); err != nil || itemID != "3" {
        t.Errorf("item_id na fila: %q err=%v", itemID, err)
    }
}

func TestRetryPendingDrainsQueue(t *testing.T) {
    var healthy atomic.Bool
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !healthy.Load() {
            w.WriteHeader(http.StatusInternalServerError)
            return
        }
        w.Write([]byte(`{"success":true}`))
    }))
    defer srv.Close()

    s := newTestService(t, srv.URL)
    s.Notify(context.Background(), map[string]any{"item_id": "4"})
    s.Notify(context.Background(), map[string]any{"item_id": "5"})
    if n := pendingFailures(t, s); n != 2 {
        t.Fatalf("fila = %d, esperado 2", n)
    }

    // Webhook volta: o reprocesso entrega e limpa a fila
    healthy.Store(true)
    delivered, remaining, err := s.RetryPending(context.Background())
    if err != nil {
        t.Fatalf("retry: %v", err)
    }
    if delivered != 2 || remaining != 0 {
        t.Errorf("delivered=%d remaining=%d", delivered, remaining)
    }
    if n := pendingFailures(t, s); n != 0 {
        t.Errorf("fila pós-retry = %d", n)
    }
}

// Sem webhook configurado, Notify enfileira direto, sem tentar entregar.
func TestNotifyUnconfiguredEnqueues(t *testing.T) {
    s := newTestService(t, "")
    s.Notify(context.Background(), map[string]any{"item_id": "6"})
    if n := pendingFailures(t, s); n != 1 {
        t.Errorf("fila = %d, esperado 1", n)
    }
}
