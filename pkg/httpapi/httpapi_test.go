// Caminho: pkg/httpapi/httpapi_test.go
// Resumo: Testes de integração da API: autenticação, pipeline de mutação
// (CSRF, sessão, idempotência, custódia, sobrescrita de identidade) e fluxo
// público de aprobación, com Monday e n8n falsos via httptest.

package httpapi

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/http/httptest"
    "net/url"
    "path/filepath"
    "strings"
    "sync"
    "testing"
    "time"

    "golang.org/x/crypto/bcrypt"

    "github.com/google/uuid"
    "github.com/mrapple/tech-transfers-api/internal/config"
    "github.com/mrapple/tech-transfers-api/internal/db"
    "github.com/mrapple/tech-transfers-api/internal/domain"
)

type recordedCall struct {
    Method string
    Path   string
    Body   map[string]any
}

// testEnv sobe Monday e n8n falsos, um SQLite temporário e remonta os
// singletons do pacote por cima.
type testEnv struct {
    t *testing.T

    mu       sync.Mutex
    n8nCalls []recordedCall

    // itemID -> texto da coluna de dono no Monday falso
    owners map[string]string

    // resposta forçada do n8n falso; zero = sucesso padrão
    n8nStatus int
    n8nBody   string
}

func newTestEnv(t *testing.T) *testEnv {
    t.Helper()
    env := &testEnv{t: t, owners: map[string]string{}}

    mondaySrv := httptest.NewServer(http.HandlerFunc(env.serveMonday))
    n8nSrv := httptest.NewServer(http.HandlerFunc(env.serveN8N))
    t.Cleanup(mondaySrv.Close)
    t.Cleanup(n8nSrv.Close)

    conn, err := db.Connect("sqlite://" + filepath.Join(t.TempDir(), "api.db"))
    if err != nil {
        t.Fatalf("connect: %v", err)
    }
    t.Cleanup(func() { conn.Close() })
    if err := db.Migrate(context.Background(), conn); err != nil {
        t.Fatalf("migrate: %v", err)
    }

    c := config.Load()
    c.LogLevel = "ERROR"
    c.MondayAPIURL = mondaySrv.URL
    c.MondayAPIToken = "test-token"
    c.N8NWebhookBase = n8nSrv.URL
    c.PublicBaseURL = "https://mrapple.example"
    c.ServiceAPISecret = "svc-secret"
    SetupWith(c, conn)

    return env
}

// serveMonday responde a query de custódia com o dono configurado em owners.
func (e *testEnv) serveMonday(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Variables struct {
            IDs []string `json:"ids"`
        } `json:"variables"`
    }
    raw, _ := io.ReadAll(r.Body)
    _ = json.Unmarshal(raw, &req)

    items := []map[string]any{}
    e.mu.Lock()
    for _, id := range req.Variables.IDs {
        if owner, ok := e.owners[id]; ok {
            items = append(items, map[string]any{
                "id":   id,
                "name": "Item " + id,
                "column_values": []map[string]any{
                    {"id": cfg.OwnerColumnPhones, "text": owner},
                    {"id": cfg.OwnerColumnRepairs, "text": owner},
                },
            })
        }
    }
    e.mu.Unlock()

    _ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"items": items}})
}

// serveN8N grava a chamada e responde sucesso.
func (e *testEnv) serveN8N(w http.ResponseWriter, r *http.Request) {
    call := recordedCall{Method: r.Method, Path: r.URL.Path}
    if r.Body != nil {
        raw, _ := io.ReadAll(r.Body)
        _ = json.Unmarshal(raw, &call.Body)
    }
    e.mu.Lock()
    e.n8nCalls = append(e.n8nCalls, call)
    status, body := e.n8nStatus, e.n8nBody
    e.mu.Unlock()
    if status != 0 {
        w.WriteHeader(status)
        _, _ = w.Write([]byte(body))
        return
    }
    _, _ = w.Write([]byte(`{"success":true,"result":"ok"}`))
}

func (e *testEnv) setN8NResponse(status int, body string) {
    e.mu.Lock()
    e.n8nStatus, e.n8nBody = status, body
    e.mu.Unlock()
}

func (e *testEnv) calls() []recordedCall {
    e.mu.Lock()
    defer e.mu.Unlock()
    out := make([]recordedCall, len(e.n8nCalls))
    copy(out, e.n8nCalls)
    return out
}

func (e *testEnv) setOwner(itemID, owner string) {
    e.mu.Lock()
    e.owners[itemID] = owner
    e.mu.Unlock()
}

func (e *testEnv) seedTecnico(nombre, pin, rol string, verEquipo bool) {
    e.t.Helper()
    hash, _ := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
    q := db.Rebind(`INSERT INTO tecnicos (id, nombre, pin_hash, rol, activo, puede_ver_equipo, monday_status_value) VALUES (?,?,?,?,?,?,?)`)
    if _, err := sqldb.Exec(q, uuid.NewString(), nombre, string(hash), rol, true, verEquipo, nombre); err != nil {
        e.t.Fatalf("seed tecnico: %v", err)
    }
}

// login autentica via handler e devolve o cookie de sessão.
func (e *testEnv) login(pin string) *http.Cookie {
    e.t.Helper()
    rec := e.do(http.MethodPost, "/api/auth/login", map[string]any{"pin": pin}, nil, true, "")
    if rec.Code != http.StatusOK {
        e.t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
    }
    for _, c := range rec.Result().Cookies() {
        if c.Name == cfg.SessionCookieName {
            return c
        }
    }
    e.t.Fatal("cookie de sessão ausente")
    return nil
}

// do executa uma requisição contra o router.
func (e *testEnv) do(method, path string, body any, cookie *http.Cookie, csrf bool, idemKey string) *httptest.ResponseRecorder {
    e.t.Helper()
    var rd io.Reader
    if body != nil {
        raw, _ := json.Marshal(body)
        rd = bytes.NewReader(raw)
    }
    req := httptest.NewRequest(method, path, rd)
    if body != nil {
        req.Header.Set("Content-Type", "application/json")
    }
    if csrf {
        req.Header.Set("X-Requested-With", cfg.CSRFHeaderValue)
    }
    if idemKey != "" {
        req.Header.Set("X-Idempotency-Key", idemKey)
    }
    if cookie != nil {
        req.AddCookie(cookie)
    }
    rec := httptest.NewRecorder()
    router.ServeHTTP(rec, req)
    return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
    t.Helper()
    var out map[string]any
    if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
        t.Fatalf("corpo não é JSON: %v: %s", err, rec.Body.String())
    }
    return out
}

func TestVerificarWithoutSession(t *testing.T) {
    newTestEnv(t)

    rec := httptest.NewRequest(http.MethodGet, "/api/auth/verificar", nil)
    w := httptest.NewRecorder()
    router.ServeHTTP(w, rec)

    // Sonda de sessão: sempre 200, a ausência vai no corpo
    if w.Code != http.StatusOK {
        t.Fatalf("status = %d", w.Code)
    }
    body := decodeBody(t, w)
    if body["success"] != false || body["code"] != "NO_SESSION" {
        t.Errorf("body = %v", body)
    }
}

func TestLoginLogoutVerificar(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)

    cookie := env.login("4321")

    rec := env.do(http.MethodGet, "/api/auth/verificar", nil, cookie, false, "")
    body := decodeBody(t, rec)
    if body["success"] != true {
        t.Fatalf("verificar com sessão: %v", body)
    }
    tec := body["tecnico"].(map[string]any)
    if tec["nombre"] != "Carlos" || tec["rol"] != domain.RolTecnico {
        t.Errorf("tecnico = %v", tec)
    }
    if _, leaked := tec["monday_status_value"]; leaked {
        t.Error("monday_status_value vazou na resposta")
    }

    if rec := env.do(http.MethodPost, "/api/auth/logout", nil, cookie, true, ""); rec.Code != http.StatusOK {
        t.Fatalf("logout: %d", rec.Code)
    }
    rec = env.do(http.MethodGet, "/api/auth/verificar", nil, cookie, false, "")
    if body := decodeBody(t, rec); body["success"] != false {
        t.Errorf("sessão sobreviveu ao logout: %v", body)
    }
}

// O PIN precisa ser exatamente 4 dígitos ASCII; a rejeição acontece antes
// de qualquer consulta ao banco.
func TestLoginRejectsMalformedPIN(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)

    for _, pin := range []string{"432", "43210", "abcd", "43a1", ""} {
        rec := env.do(http.MethodPost, "/api/auth/login", map[string]any{"pin": pin}, nil, true, "")
        if rec.Code != http.StatusBadRequest {
            t.Errorf("pin %q aceito: %d", pin, rec.Code)
            continue
        }
        if body := decodeBody(t, rec); body["code"] != "INVALID_INPUT" {
            t.Errorf("pin %q: code = %v", pin, body["code"])
        }
    }
}

func TestLoginRequiresCsrfHeader(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)

    rec := env.do(http.MethodPost, "/api/auth/login", map[string]any{"pin": "4321"}, nil, false, "")
    if rec.Code != http.StatusForbidden {
        t.Fatalf("login sem header: %d", rec.Code)
    }
}

func TestMutationGates(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    payload := map[string]any{"item_id": "123", "tecnico_destino": "Lucía"}

    // Sem CSRF
    if rec := env.do(http.MethodPost, "/api/n8n/tech-transferir", payload, nil, false, ""); rec.Code != http.StatusForbidden {
        t.Errorf("sem CSRF: %d", rec.Code)
    }
    // Sem sessão
    if rec := env.do(http.MethodPost, "/api/n8n/tech-transferir", payload, nil, true, ""); rec.Code != http.StatusUnauthorized {
        t.Errorf("sem sessão: %d", rec.Code)
    }
    // Sem item_id
    cookie := env.login("4321")
    if rec := env.do(http.MethodPost, "/api/n8n/tech-transferir", map[string]any{"x": 1}, cookie, true, ""); rec.Code != http.StatusBadRequest {
        t.Errorf("sem item_id: %d", rec.Code)
    }
    if len(env.calls()) != 0 {
        t.Errorf("n8n chamado apesar dos gates: %v", env.calls())
    }
}

func TestTransferirHappyPathOverridesIdentity(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.setOwner("123", "Carlos")
    cookie := env.login("4321")

    // O cliente tenta se passar por outro técnico no corpo
    rec := env.do(http.MethodPost, "/api/n8n/tech-transferir", map[string]any{
        "item_id":               "123",
        "tecnico_destino":       "Lucía",
        "tecnico_id":            "forjado",
        "tecnico_actual":        "impostor-id",
        "tecnico_nombre":        "Impostor",
        "tecnico_actual_nombre": "Impostor",
    }, cookie, true, "")
    if rec.Code != http.StatusOK {
        t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["success"] != true {
        t.Fatalf("body = %v", body)
    }

    calls := env.calls()
    if len(calls) != 1 || calls[0].Path != "/tech-transferir" {
        t.Fatalf("calls = %+v", calls)
    }
    fwd := calls[0].Body
    if fwd["tecnico_nombre"] != "Carlos" || fwd["tecnico_actual_nombre"] != "Carlos" {
        t.Errorf("identidade não sobrescrita: %v / %v", fwd["tecnico_nombre"], fwd["tecnico_actual_nombre"])
    }
    if fwd["tecnico_id"] == "forjado" || fwd["tecnico_actual"] == "impostor-id" {
        t.Errorf("identidade forjada encaminhada: %v / %v", fwd["tecnico_id"], fwd["tecnico_actual"])
    }
    if fwd["tecnico_destino"] != "Lucía" {
        t.Errorf("payload original perdido: %v", fwd)
    }
}

func TestTransferirDeniedWhenNotOwner(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.setOwner("123", "Lucía")
    cookie := env.login("4321")

    rec := env.do(http.MethodPost, "/api/n8n/tech-transferir", map[string]any{"item_id": "123"}, cookie, true, "")
    if rec.Code != http.StatusForbidden {
        t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
    }
    body := decodeBody(t, rec)
    if body["code"] != "NOT_OWNER" {
        t.Errorf("code = %v", body["code"])
    }
    // A resposta informa os dois lados para a UI explicar o conflito
    if body["owner_actual"] != "Lucía" || body["owner_session"] != "Carlos" {
        t.Errorf("owners = %v / %v", body["owner_actual"], body["owner_session"])
    }
    if len(env.calls()) != 0 {
        t.Error("mutação encaminhada sem custódia")
    }
}

func TestTransferirItemNotFound(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    cookie := env.login("4321")

    rec := env.do(http.MethodPost, "/api/n8n/tech-transferir", map[string]any{"item_id": "404404"}, cookie, true, "")
    if rec.Code != http.StatusNotFound {
        t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["code"] != "NOT_FOUND" {
        t.Errorf("code = %v", body["code"])
    }
    if len(env.calls()) != 0 {
        t.Error("item inexistente chegou ao n8n")
    }
}

// Dois POSTs com o mesmo request_id: o n8n executa uma vez e o segundo
// recebe a resposta original verbatim.
func TestIdempotentReplay(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.setOwner("123", "Carlos")
    cookie := env.login("4321")

    payload := map[string]any{"item_id": "123", "tecnico_destino": "Lucía", "request_id": "idem-abc"}
    first := env.do(http.MethodPost, "/api/n8n/tech-transferir", payload, cookie, true, "")
    if first.Code != http.StatusOK {
        t.Fatalf("primeira: %d", first.Code)
    }
    second := env.do(http.MethodPost, "/api/n8n/tech-transferir", payload, cookie, true, "")
    if second.Code != http.StatusOK {
        t.Fatalf("segunda: %d", second.Code)
    }
    if first.Body.String() != second.Body.String() {
        t.Errorf("replay não é verbatim:\n%s\n%s", first.Body.String(), second.Body.String())
    }
    if n := len(env.calls()); n != 1 {
        t.Errorf("n8n executado %d vezes", n)
    }
}

// Clientes antigos mandam a chave no header; vale como fallback.
func TestIdempotencyKeyHeaderFallback(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.setOwner("123", "Carlos")
    cookie := env.login("4321")

    payload := map[string]any{"item_id": "123"}
    env.do(http.MethodPost, "/api/n8n/tech-transferir", payload, cookie, true, "hdr-1")
    env.do(http.MethodPost, "/api/n8n/tech-transferir", payload, cookie, true, "hdr-1")
    if n := len(env.calls()); n != 1 {
        t.Errorf("header ignorado: %d execuções", n)
    }
}

// Quando o workflow responde erro, o status e o corpo do motor são
// relayados ao cliente sem reembrulhar.
func TestMutationRelaysUpstreamError(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.setOwner("123", "Carlos")
    env.setN8NResponse(http.StatusUnprocessableEntity, `{"success":false,"error":"estado inválido"}`)
    cookie := env.login("4321")

    rec := env.do(http.MethodPost, "/api/n8n/tech-cambiar-estado", map[string]any{"item_id": "123", "nuevo_estado": "???"}, cookie, true, "")
    if rec.Code != http.StatusUnprocessableEntity {
        t.Fatalf("status = %d, esperado o do motor", rec.Code)
    }
    body := decodeBody(t, rec)
    if body["error"] != "estado inválido" {
        t.Errorf("corpo reembrulhado: %v", body)
    }
}

func TestReadUsesCache(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    cookie := env.login("4321")

    for i := 0; i < 3; i++ {
        rec := env.do(http.MethodGet, "/api/n8n/tech-get-phones", nil, cookie, false, "")
        if rec.Code != http.StatusOK {
            t.Fatalf("leitura %d: %d", i, rec.Code)
        }
    }
    if n := len(env.calls()); n != 1 {
        t.Errorf("cache não segurou: %d chamadas ao n8n", n)
    }
}

// Mutação bem-sucedida invalida o cache da categoria.
func TestMutationInvalidatesCache(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.setOwner("123", "Carlos")
    cookie := env.login("4321")

    env.do(http.MethodGet, "/api/n8n/tech-get-phones", nil, cookie, false, "")
    env.do(http.MethodPost, "/api/n8n/tech-transferir", map[string]any{"item_id": "123"}, cookie, true, "")
    env.do(http.MethodGet, "/api/n8n/tech-get-phones", nil, cookie, false, "")

    var reads int
    for _, c := range env.calls() {
        if c.Path == "/tech-get-phones" {
            reads++
        }
    }
    if reads != 2 {
        t.Errorf("reads ao n8n = %d, esperado 2 (cache invalidado)", reads)
    }
}

func TestPublicApprovalFlow(t *testing.T) {
    env := newTestEnv(t)

    // 1. n8n registra a aprobación com o Bearer de serviço
    req := httptest.NewRequest(http.MethodPost, "/api/admin/register-approval", bytes.NewReader(mustJSON(map[string]any{
        "item_id":         "700",
        "cliente_nombre":  "María",
        "tipo_reparacion": "Pantalla",
        "valor_a_cobrar":  120.0,
    })))
    req.Header.Set("Authorization", "Bearer svc-secret")
    w := httptest.NewRecorder()
    router.ServeHTTP(w, req)
    if w.Code != http.StatusCreated {
        t.Fatalf("register: %d: %s", w.Code, w.Body.String())
    }
    approvalURL := decodeBody(t, w)["approval_url"].(string)
    u, err := url.Parse(approvalURL)
    if err != nil {
        t.Fatalf("approval_url: %v", err)
    }
    token := u.Query().Get("t")
    if token == "" || !strings.HasPrefix(u.Path, "/r/700") {
        t.Fatalf("approval_url = %q", approvalURL)
    }

    // 2. Cliente abre a página
    rec := env.do(http.MethodGet, "/api/client/repair/700?t="+token, nil, nil, false, "")
    if rec.Code != http.StatusOK {
        t.Fatalf("get repair: %d: %s", rec.Code, rec.Body.String())
    }
    repair := decodeBody(t, rec)["repair"].(map[string]any)
    if repair["cliente_nombre"] != "María" || repair["status"] != domain.ApprovalPending {
        t.Errorf("repair = %v", repair)
    }

    // 3. Cliente aprova
    rec = env.do(http.MethodPost, "/api/client/approval/700", map[string]any{"token": token, "decision": "approved"}, nil, false, "")
    if rec.Code != http.StatusOK {
        t.Fatalf("approve: %d: %s", rec.Code, rec.Body.String())
    }

    // 4. Segunda decisão conflita (aqui via o alias "t" da página antiga)
    rec = env.do(http.MethodPost, "/api/client/approval/700", map[string]any{"t": token, "decision": "rejected"}, nil, false, "")
    if rec.Code != http.StatusConflict {
        t.Fatalf("segunda decisão: %d", rec.Code)
    }
    if body := decodeBody(t, rec); body["code"] != "ALREADY_DECIDED" || body["status"] != domain.ApprovalApproved {
        t.Errorf("body = %v", body)
    }

    // 5. A notificação sai em segundo plano para o webhook
    deadline := time.Now().Add(3 * time.Second)
    for {
        var found bool
        for _, c := range env.calls() {
            if c.Path == cfg.ApprovalNotifyPath {
                found = true
                if c.Body["decision"] != "approved" || c.Body["item_id"] != "700" {
                    t.Errorf("payload de notificação: %v", c.Body)
                }
            }
        }
        if found {
            break
        }
        if time.Now().After(deadline) {
            t.Fatal("notificação nunca chegou ao webhook")
        }
        time.Sleep(20 * time.Millisecond)
    }
}

// Registro inexistente e token errado respondem idêntico (403 INVALID).
func TestPublicErrorsCollapse(t *testing.T) {
    env := newTestEnv(t)

    req := httptest.NewRequest(http.MethodPost, "/api/admin/register-approval", bytes.NewReader(mustJSON(map[string]any{"item_id": "701"})))
    req.Header.Set("Authorization", "Bearer svc-secret")
    w := httptest.NewRecorder()
    router.ServeHTTP(w, req)
    if w.Code != http.StatusCreated {
        t.Fatalf("register: %d", w.Code)
    }

    wrongToken := env.do(http.MethodGet, "/api/client/repair/701?t=tok-errado", nil, nil, false, "")
    missing := env.do(http.MethodGet, "/api/client/repair/999999?t=tok-errado", nil, nil, false, "")

    if wrongToken.Code != http.StatusForbidden || missing.Code != http.StatusForbidden {
        t.Fatalf("status: %d / %d", wrongToken.Code, missing.Code)
    }
    if wrongToken.Body.String() != missing.Body.String() {
        t.Errorf("respostas distinguem inexistente de token errado:\n%s\n%s", wrongToken.Body.String(), missing.Body.String())
    }
}

func TestRegisterApprovalRequiresSecret(t *testing.T) {
    newTestEnv(t)

    req := httptest.NewRequest(http.MethodPost, "/api/admin/register-approval", bytes.NewReader(mustJSON(map[string]any{"item_id": "702"})))
    req.Header.Set("Authorization", "Bearer errado")
    w := httptest.NewRecorder()
    router.ServeHTTP(w, req)
    if w.Code != http.StatusUnauthorized {
        t.Fatalf("status = %d", w.Code)
    }
}

func TestMarkVerbalRequiresJefe(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)
    env.seedTecnico("Pedro", "9999", domain.RolJefe, true)

    req := httptest.NewRequest(http.MethodPost, "/api/admin/register-approval", bytes.NewReader(mustJSON(map[string]any{"item_id": "703"})))
    req.Header.Set("Authorization", "Bearer svc-secret")
    w := httptest.NewRecorder()
    router.ServeHTTP(w, req)

    payload := map[string]any{"item_id": "703", "decision": "approved", "via": "verbal"}

    tecnico := env.login("4321")
    if rec := env.do(http.MethodPost, "/api/admin/mark-verbal", payload, tecnico, true, ""); rec.Code != http.StatusForbidden {
        t.Errorf("técnico marcou verbal: %d", rec.Code)
    }

    jefe := env.login("9999")
    rec := env.do(http.MethodPost, "/api/admin/mark-verbal", payload, jefe, true, "")
    if rec.Code != http.StatusOK {
        t.Fatalf("jefe: %d: %s", rec.Code, rec.Body.String())
    }
    if body := decodeBody(t, rec); body["via"] != domain.ViaVerbal {
        t.Errorf("via = %v", body["via"])
    }
}

func TestJefeDashboard(t *testing.T) {
    env := newTestEnv(t)
    env.seedTecnico("Pedro", "9999", domain.RolJefe, true)
    env.seedTecnico("Carlos", "4321", domain.RolTecnico, false)

    now := time.Now()
    q := db.Rebind(`INSERT INTO transfer_logs (item_id, tecnico_origen, tecnico_destino, tiene_foto, created_at) VALUES (?,?,?,?,?)`)
    for i := 0; i < 4; i++ {
        if _, err := sqldb.Exec(q, fmt.Sprintf("9%d", i), "Carlos", "Lucía", i < 3, now); err != nil {
            t.Fatalf("seed log: %v", err)
        }
    }
    if _, err := sqldb.Exec(q, "95", "Lucía", "Carlos", true, now); err != nil {
        t.Fatalf("seed log: %v", err)
    }
    // Dois registros no mês anterior para a tendência e a consulta por mes=
    prev := time.Date(now.Year(), now.Month(), 1, 12, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
    for i := 0; i < 2; i++ {
        if _, err := sqldb.Exec(q, fmt.Sprintf("8%d", i), "Carlos", "Lucía", false, prev); err != nil {
            t.Fatalf("seed log mes anterior: %v", err)
        }
    }

    // Técnico comum não entra
    tecnico := env.login("4321")
    if rec := env.do(http.MethodGet, "/api/jefe/dashboard", nil, tecnico, false, ""); rec.Code != http.StatusForbidden {
        t.Errorf("técnico viu dashboard: %d", rec.Code)
    }

    jefe := env.login("9999")
    rec := env.do(http.MethodGet, "/api/jefe/dashboard", nil, jefe, false, "")
    if rec.Code != http.StatusOK {
        t.Fatalf("dashboard: %d: %s", rec.Code, rec.Body.String())
    }
    dash := decodeBody(t, rec)["dashboard"].(map[string]any)
    if dash["total"] != float64(5) || dash["con_foto"] != float64(4) {
        t.Errorf("totais = %v / %v", dash["total"], dash["con_foto"])
    }
    if dash["con_foto_pct"] != 80.0 {
        t.Errorf("pct = %v", dash["con_foto_pct"])
    }
    if dash["mes_anterior"] != float64(2) || dash["tendencia_pct"] != 150.0 {
        t.Errorf("tendência = %v sobre %v", dash["tendencia_pct"], dash["mes_anterior"])
    }
    porTecnico := dash["por_tecnico"].([]any)
    if len(porTecnico) != 2 {
        t.Fatalf("por_tecnico = %v", porTecnico)
    }
    first := porTecnico[0].(map[string]any)
    if first["tecnico"] != "Carlos" || first["total"] != float64(4) || first["con_foto"] != float64(3) {
        t.Errorf("primeiro técnico = %v", first)
    }

    // Mês fechado via ?mes=
    rec = env.do(http.MethodGet, "/api/jefe/dashboard?mes="+prev.Format("2006-01"), nil, jefe, false, "")
    if rec.Code != http.StatusOK {
        t.Fatalf("dashboard mes anterior: %d: %s", rec.Code, rec.Body.String())
    }
    dash = decodeBody(t, rec)["dashboard"].(map[string]any)
    if dash["month"] != prev.Format("2006-01") || dash["total"] != float64(2) {
        t.Errorf("mes anterior: month=%v total=%v", dash["month"], dash["total"])
    }

    if rec := env.do(http.MethodGet, "/api/jefe/dashboard?mes=2026-13", nil, jefe, false, ""); rec.Code != http.StatusBadRequest {
        t.Errorf("mes inválido aceito: %d", rec.Code)
    }
}

func mustJSON(v any) []byte {
    raw, _ := json.Marshal(v)
    return raw
}
