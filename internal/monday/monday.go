// Caminho: internal/monday/monday.go
// Resumo: Cliente GraphQL do Monday.com usado como oráculo de propriedade:
// lê o rótulo (texto) da coluna de dono de um item antes de autorizar operações.

package monday

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"
)

// OwnerResult é o resultado transitório da consulta de custódia.
// OwnerText nil significa item sem dono ou item inexistente; quem chama
// decide se precisa distinguir via consulta secundária.
type OwnerResult struct {
    ItemID    string
    ItemName  string
    OwnerText *string
}

// Client encapsula o endpoint e o token da API do Monday.
type Client struct {
    APIURL string
    Token  string
    HTTP   *http.Client
}

// New cria um cliente com timeout limitado; toda chamada de saída é cancelável.
func New(apiURL, token string, timeout time.Duration) *Client {
    return &Client{
        APIURL: apiURL,
        Token:  token,
        HTTP:   &http.Client{Timeout: timeout},
    }
}

// ErrNoToken indica que o token da API não foi configurado.
var ErrNoToken = errors.New("monday: MONDAY_API_TOKEN ausente")

const ownerQuery = `
    query ($ids: [ID!], $colIds: [String!]) {
      items(ids: $ids) {
        id
        name
        column_values(ids: $colIds) {
          id
          text
        }
      }
    }
`

// graphQL executa uma query e decodifica o campo data em out.
// Qualquer erro de transporte, HTTP ou do GraphQL propaga como erro duro:
// uma decisão de autorização nunca pode degradar para "permitir".
func (c *Client) graphQL(ctx context.Context, query string, variables map[string]any, out any) error {
    if c.Token == "" {
        return ErrNoToken
    }
    body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
    if err != nil {
        return err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(body))
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("Authorization", c.Token)

    res, err := c.HTTP.Do(req)
    if err != nil {
        return fmt.Errorf("monday: %w", err)
    }
    defer res.Body.Close()

    raw, err := io.ReadAll(res.Body)
    if err != nil {
        return fmt.Errorf("monday: read body: %w", err)
    }
    if res.StatusCode != http.StatusOK {
        return fmt.Errorf("monday: HTTP %d: %s", res.StatusCode, truncate(raw, 512))
    }

    var envelope struct {
        Data   json.RawMessage `json:"data"`
        Errors []struct {
            Message string `json:"message"`
        } `json:"errors"`
    }
    if err := json.Unmarshal(raw, &envelope); err != nil {
        return fmt.Errorf("monday: invalid response: %w", err)
    }
    if len(envelope.Errors) > 0 {
        return fmt.Errorf("monday: graphql error: %s", envelope.Errors[0].Message)
    }
    return json.Unmarshal(envelope.Data, out)
}

// GetOwnerTextForItem lê o texto da coluna de dono (status) de um item.
// Usa items(ids:) para não depender do board; item inexistente devolve
// resultado vazio, não erro.
func (c *Client) GetOwnerTextForItem(ctx context.Context, itemID, ownerColumnID string) (OwnerResult, error) {
    var data struct {
        Items []struct {
            ID           string `json:"id"`
            Name         string `json:"name"`
            ColumnValues []struct {
                ID   string  `json:"id"`
                Text *string `json:"text"`
            } `json:"column_values"`
        } `json:"items"`
    }

    err := c.graphQL(ctx, ownerQuery, map[string]any{
        "ids":    []string{itemID},
        "colIds": []string{ownerColumnID},
    }, &data)
    if err != nil {
        return OwnerResult{}, err
    }

    if len(data.Items) == 0 {
        // Vazio sinaliza item inexistente; o chamador decide o 404
        return OwnerResult{}, nil
    }

    item := data.Items[0]
    result := OwnerResult{ItemID: item.ID, ItemName: item.Name}
    for _, cv := range item.ColumnValues {
        if cv.ID == ownerColumnID {
            result.OwnerText = cv.Text
            break
        }
    }
    return result, nil
}

func truncate(b []byte, n int) string {
    if len(b) <= n {
        return string(b)
    }
    return string(b[:n]) + "..."
}
