// Caminho: api/index.go
// Resumo: Entrada serverless (Vercel). Delega ao pacote httpapi, que garante
// inicialização única no cold start.

package handler

import (
    "net/http"

    "github.com/mrapple/tech-transfers-api/pkg/httpapi"
)

// Handler é o ponto de entrada principal para a Vercel.
func Handler(w http.ResponseWriter, r *http.Request) {
    httpapi.Handler(w, r)
}
