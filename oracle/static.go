package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"openlend/lending"
)

var (
	ErrUnknownAsset = errors.New("oracle: no rate configured for asset")
	ErrInvalidRate  = errors.New("oracle: rate must be positive")
)

// Static prices assets against the common unit through a fixed rational rate
// table. Each asset carries a numerator/denominator pair so that ValueOf and
// QuantityOf stay inverses of each other up to integer truncation. Rates can
// be replaced at runtime, which is how devnets simulate price moves.
type Static struct {
	mu    sync.RWMutex
	rates map[string]*big.Rat
}

var _ lending.ValueOracle = (*Static)(nil)

func NewStatic() *Static {
	return &Static{rates: make(map[string]*big.Rat)}
}

// SetRate installs or replaces the rate for asset. Both legs must be positive.
func (s *Static) SetRate(asset string, numerator, denominator int64) error {
	normalized := lending.NormalizeAsset(asset)
	if normalized == "" {
		return fmt.Errorf("%w: empty asset symbol", ErrInvalidRate)
	}
	if numerator <= 0 || denominator <= 0 {
		return fmt.Errorf("%w: %s quoted at %d/%d", ErrInvalidRate, normalized, numerator, denominator)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[normalized] = big.NewRat(numerator, denominator)
	return nil
}

// Rate returns a copy of the configured rate for asset.
func (s *Static) Rate(asset string) (*big.Rat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[lending.NormalizeAsset(asset)]
	if !ok {
		return nil, false
	}
	return new(big.Rat).Set(rate), true
}

// Assets lists the quoted symbols in lexical order.
func (s *Static) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.rates))
	for symbol := range s.rates {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// ValueOf converts qty of asset into the common unit, truncating toward zero.
func (s *Static) ValueOf(asset string, qty *big.Int) (*big.Int, error) {
	rate, err := s.lookup(asset)
	if err != nil {
		return nil, err
	}
	if qty == nil {
		return big.NewInt(0), nil
	}
	scaled := new(big.Int).Mul(qty, rate.Num())
	return scaled.Quo(scaled, rate.Denom()), nil
}

// QuantityOf converts a common-unit value back into asset quantity,
// truncating toward zero.
func (s *Static) QuantityOf(asset string, value *big.Int) (*big.Int, error) {
	rate, err := s.lookup(asset)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return big.NewInt(0), nil
	}
	scaled := new(big.Int).Mul(value, rate.Denom())
	return scaled.Quo(scaled, rate.Num()), nil
}

func (s *Static) lookup(asset string) (*big.Rat, error) {
	normalized := lending.NormalizeAsset(asset)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, normalized)
	}
	return rate, nil
}

type rateDocument struct {
	Assets map[string]rateEntry `yaml:"assets"`
}

type rateEntry struct {
	Numerator   int64 `yaml:"numerator"`
	Denominator int64 `yaml:"denominator"`
}

// Parse builds a Static oracle from a YAML rate table. A missing denominator
// defaults to one so flat quotes stay terse.
func Parse(raw []byte) (*Static, error) {
	var doc rateDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("oracle: parse rate table: %w", err)
	}
	static := NewStatic()
	for asset, entry := range doc.Assets {
		den := entry.Denominator
		if den == 0 {
			den = 1
		}
		if err := static.SetRate(asset, entry.Numerator, den); err != nil {
			return nil, err
		}
	}
	return static, nil
}

// Load reads a YAML rate table from disk.
func Load(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read rate table: %w", err)
	}
	return Parse(raw)
}
