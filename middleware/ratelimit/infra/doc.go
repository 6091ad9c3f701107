// Package infra contém implementações concretas para os contratos do pacote domain.
//
//   - WindowStore: janela fixa por chave (teto exato por rota)
//   - Store: token bucket por chave usando golang.org/x/time/rate (nível grosso por IP)
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore: contadores de decisões
package infra
