package binance

import (
	"strings"
	"sync"
)

// symbolMapper caches the exchange form (BTCUSDT) of unified symbols (BTC/USDT).
type symbolMapper struct {
	toExchange map[string]string
	mu         sync.RWMutex
}

func newSymbolMapper() *symbolMapper {
	return &symbolMapper{toExchange: make(map[string]string)}
}

func (m *symbolMapper) exchangeSymbol(asset string) string {
	m.mu.RLock()
	s, ok := m.toExchange[asset]
	m.mu.RUnlock()
	if ok {
		return s
	}

	s = strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(asset))
	m.mu.Lock()
	m.toExchange[asset] = s
	m.mu.Unlock()
	return s
}
