// Caminho: internal/cache/cache.go
// Resumo: Cache read-through com TTL curto para reduzir chamadas ao n8n/Monday.
// Interface injetável; implementações em memória e sobre Redis (internal/kv).

package cache

import (
    "context"
    "strings"
    "sync"
    "time"

    "github.com/mrapple/tech-transfers-api/internal/kv"
)

// Cache é o colaborador injetado nos handlers de leitura. Os valores são
// corpos JSON já serializados; a invalidação é por prefixo de categoria.
type Cache interface {
    Get(ctx context.Context, key string) (string, bool)
    Set(ctx context.Context, key, val string, ttl time.Duration)
    Invalidate(ctx context.Context, pattern string)
}

// New escolhe a implementação: Redis quando disponível (compartilhado entre
// instâncias serverless), memória local caso contrário.
func New() Cache {
    if kv.Available() {
        return &redisCache{}
    }
    return NewMemory()
}

type entry struct {
    data      string
    expiresAt time.Time
}

// Memory é um cache em memória com limpeza periódica de entradas expiradas.
type Memory struct {
    mu    sync.RWMutex
    store map[string]entry
}

// NewMemory cria o cache em memória e inicia o janitor (limpeza a cada 60s).
func NewMemory() *Memory {
    m := &Memory{store: make(map[string]entry)}
    go m.janitor()
    return m
}

// Get retorna o valor se existir e não estiver expirado.
func (m *Memory) Get(_ context.Context, key string) (string, bool) {
    m.mu.RLock()
    e, ok := m.store[key]
    m.mu.RUnlock()
    if !ok {
        return "", false
    }
    if time.Now().After(e.expiresAt) {
        m.mu.Lock()
        delete(m.store, key)
        m.mu.Unlock()
        return "", false
    }
    return e.data, true
}

// Set grava um valor com TTL.
func (m *Memory) Set(_ context.Context, key, val string, ttl time.Duration) {
    m.mu.Lock()
    m.store[key] = entry{data: val, expiresAt: time.Now().Add(ttl)}
    m.mu.Unlock()
}

// Invalidate remove todas as chaves que contêm o padrão informado.
func (m *Memory) Invalidate(_ context.Context, pattern string) {
    m.mu.Lock()
    for k := range m.store {
        if strings.Contains(k, pattern) {
            delete(m.store, k)
        }
    }
    m.mu.Unlock()
}

func (m *Memory) janitor() {
    for range time.Tick(60 * time.Second) {
        now := time.Now()
        m.mu.Lock()
        for k, e := range m.store {
            if now.After(e.expiresAt) {
                delete(m.store, k)
            }
        }
        m.mu.Unlock()
    }
}

// redisCache delega ao internal/kv; chaves prefixadas para SCAN seguro.
type redisCache struct{}

const redisPrefix = "cache:"

func (r *redisCache) Get(ctx context.Context, key string) (string, bool) {
    v, err := kv.Get(ctx, redisPrefix+key)
    if err != nil || v == "" {
        return "", false
    }
    return v, true
}

func (r *redisCache) Set(ctx context.Context, key, val string, ttl time.Duration) {
    _ = kv.Set(ctx, redisPrefix+key, val, ttl)
}

func (r *redisCache) Invalidate(ctx context.Context, pattern string) {
    kv.DelPattern(ctx, redisPrefix+"*"+pattern+"*")
}
