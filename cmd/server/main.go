// Caminho: cmd/server/main.go
// Resumo: Servidor HTTP local para desenvolvimento. Encapsula o handler
// serverless (api/index.go) e expõe a API em localhost:8080.

package main

import (
    "log"
    "net/http"
    "os"

    handler "github.com/mrapple/tech-transfers-api/api"
)

// main inicia um servidor HTTP local e encaminha todas as rotas para o handler da API.
func main() {
    http.HandleFunc("/", handler.Handler)
    addr := ":8080"
    if p := os.Getenv("PORT"); p != "" {
        addr = ":" + p
    }
    log.Printf("API iniciada em http://localhost%v", addr)
    if err := http.ListenAndServe(addr, nil); err != nil {
        log.Fatalf("server error: %v", err)
    }
}
