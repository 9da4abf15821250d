// Caminho: internal/n8n/n8n.go
// Resumo: Cliente dos webhooks do n8n (motor de workflow que executa as
// mutações no Monday). Normaliza as formas de resposta do motor em um tipo
// único na fronteira: objeto parseado, array ou texto cru embrulhado.

package n8n

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"
)

// Result é a resposta normalizada do motor. O n8n ora devolve um objeto,
// ora um array, ora texto não parseável; o resto do código nunca faz
// shape-sniffing além desta fronteira.
type Result struct {
    StatusCode int
    Body       map[string]any // objeto parseado; {"raw": texto} quando não parseável
    Array      []any          // preenchido quando a resposta é um array JSON
}

// OK informa se o motor executou a mutação: 2xx e sem success:false no corpo.
func (r Result) OK() bool {
    if r.StatusCode < 200 || r.StatusCode >= 300 {
        return false
    }
    if v, ok := r.Body["success"]; ok {
        if b, isBool := v.(bool); isBool && !b {
            return false
        }
    }
    return true
}

// Payload devolve o corpo a relayar ao chamador original (array ou objeto).
func (r Result) Payload() any {
    if r.Array != nil {
        return r.Array
    }
    return r.Body
}

// Client encapsula a base dos webhooks e um http.Client com timeout limitado.
type Client struct {
    Base string
    HTTP *http.Client
}

// New cria o cliente; base vazia é erro de configuração detectado no handler.
func New(base string, timeout time.Duration) *Client {
    return &Client{
        Base: strings.TrimRight(base, "/"),
        HTTP: &http.Client{Timeout: timeout},
    }
}

// Configured informa se a base dos webhooks foi definida.
func (c *Client) Configured() bool { return c.Base != "" }

// PostJSON envia um POST JSON para base+path e normaliza a resposta.
// Timeout/transporte contam como falha (nunca como sucesso).
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (Result, error) {
    body, err := json.Marshal(payload)
    if err != nil {
        return Result{}, err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(body))
    if err != nil {
        return Result{}, err
    }
    req.Header.Set("Content-Type", "application/json")
    return c.do(req)
}

// GetJSON envia um GET com query params e normaliza a resposta.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values) (Result, error) {
    u := c.Base + path
    if len(query) > 0 {
        u += "?" + query.Encode()
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil {
        return Result{}, err
    }
    return c.do(req)
}

func (c *Client) do(req *http.Request) (Result, error) {
    res, err := c.HTTP.Do(req)
    if err != nil {
        return Result{}, fmt.Errorf("n8n: %w", err)
    }
    defer res.Body.Close()

    raw, err := io.ReadAll(res.Body)
    if err != nil {
        return Result{}, fmt.Errorf("n8n: read body: %w", err)
    }
    return parse(res.StatusCode, raw), nil
}

// parse nunca falha: corpo malformado vira {"raw": texto}.
func parse(status int, raw []byte) Result {
    r := Result{StatusCode: status}
    text := strings.TrimSpace(string(raw))
    if text == "" {
        r.Body = map[string]any{}
        return r
    }
    switch text[0] {
    case '{':
        var obj map[string]any
        if err := json.Unmarshal(raw, &obj); err == nil {
            r.Body = obj
            return r
        }
    case '[':
        var arr []any
        if err := json.Unmarshal(raw, &arr); err == nil {
            r.Array = arr
            r.Body = map[string]any{}
            return r
        }
    }
    r.Body = map[string]any{"raw": text}
    return r
}
