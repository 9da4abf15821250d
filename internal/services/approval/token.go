// Caminho: internal/services/approval/token.go
// Resumo: Geração e validação dos tokens de aprovação enviados ao cliente.
// Token bruto só existe na URL; persistimos apenas o hash SHA-256.

package approvalsvc

import (
    "crypto/rand"
    "crypto/sha256"
    "encoding/base64"
    "encoding/hex"
    "fmt"
    "strings"
    "time"
)

// Razões de rejeição de um token.
const (
    ReasonExpired = "expired"
    ReasonInvalid = "invalid"
)

// GeneratedToken carrega o token bruto (para a URL), o hash (para o banco)
// e a expiração.
type GeneratedToken struct {
    Token     string
    TokenHash string
    ExpiresAt time.Time
}

// GenerateToken cria um token aleatório seguro: 32 bytes (256 bits de
// entropia) em base64 URL-safe, com a expiração informada.
func GenerateToken(expiry time.Duration) (GeneratedToken, error) {
    b := make([]byte, 32)
    if _, err := rand.Read(b); err != nil {
        return GeneratedToken{}, err
    }
    token := base64.RawURLEncoding.EncodeToString(b)
    return GeneratedToken{
        Token:     token,
        TokenHash: HashToken(token),
        ExpiresAt: time.Now().Add(expiry),
    }, nil
}

// HashToken aplica SHA-256 e devolve hex. Nunca armazenamos o token bruto.
func HashToken(token string) string {
    sum := sha256.Sum256([]byte(token))
    return hex.EncodeToString(sum[:])
}

// ValidateToken verifica um token contra o hash e a expiração armazenados.
// Expiração primeiro: é mais barato e evita expor timing de comparação de
// hash num token já expirado.
func ValidateToken(token, storedHash string, expiresAt time.Time) (bool, string) {
    if time.Now().After(expiresAt) {
        return false, ReasonExpired
    }
    if HashToken(token) != storedHash {
        return false, ReasonInvalid
    }
    return true, ""
}

// BuildApprovalURL monta a única cópia do token bruto: o link público
// enviado ao cliente (fora de banda).
func BuildApprovalURL(baseURL, itemID, token string) string {
    return fmt.Sprintf("%s/r/%s?t=%s", strings.TrimRight(baseURL, "/"), itemID, token)
}
