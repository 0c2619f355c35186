// Package normalization converts provider records into canonical trades.
package normalization

import (
	"errors"
	"fmt"
	"strings"

	"conviction-lab/internal/domain"
)

// Normalization outcomes other than success.
var (
	// ErrInvalidRecord marks a record that failed validation. Counted, never fatal.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNotATrade marks a record outside scope: no base-asset leg,
	// token-to-token swaps, LP tokens, or base-for-base conversions.
	ErrNotATrade = errors.New("not a trade")
)

// Leg is one asset movement into or out of the analyzed wallet.
type Leg struct {
	TokenAddress string
	Symbol       string
	Amount       float64 // as reported; may leak raw units
	RawAmount    string  // integer base units, when the provider reports them
	Decimals     int     // -1 when unknown
	Inflow       bool    // true when the wallet received the asset
}

// RawTrade is a provider record before normalization.
// Providers that label the side set Side and report a single token leg.
type RawTrade struct {
	Hash         string
	TimestampMs  int64
	BlockHeight  int64
	Legs         []Leg
	Side         domain.Side // empty when inferred from legs
	UnitPriceUSD float64     // provider price of the token leg, 0 if unknown
	ValueUSD     *float64    // provider USD value, nil if unknown
}

// Normalizer converts RawTrades for one chain.
type Normalizer struct {
	registry       *Registry
	nativePriceUSD float64
}

// New creates a normalizer. nativePriceUSD values native and wrapped-native
// legs; 0 leaves those trades without a USD value.
func New(registry *Registry, nativePriceUSD float64) *Normalizer {
	return &Normalizer{registry: registry, nativePriceUSD: nativePriceUSD}
}

// Batch is the result of normalizing one provider response.
type Batch struct {
	Trades  []*domain.Trade
	Raw     int
	Invalid int
	Skipped int
}

// NormalizeAll normalizes records and returns trades sorted by timestamp.
func (n *Normalizer) NormalizeAll(records []RawTrade) *Batch {
	b := &Batch{Raw: len(records)}
	for i := range records {
		t, err := n.Normalize(&records[i])
		switch {
		case err == nil:
			b.Trades = append(b.Trades, t)
		case errors.Is(err, ErrInvalidRecord):
			b.Invalid++
		default:
			b.Skipped++
		}
	}
	SortTrades(b.Trades)
	return b
}

// Normalize converts one record into a Trade.
// Returns ErrInvalidRecord or ErrNotATrade (wrapped) when no trade results.
func (n *Normalizer) Normalize(r *RawTrade) (*domain.Trade, error) {
	if r.TimestampMs <= 0 {
		return nil, fmt.Errorf("%w: timestamp %d", ErrInvalidRecord, r.TimestampMs)
	}
	if r.ValueUSD != nil && *r.ValueUSD < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidRecord)
	}

	var (
		t   *domain.Trade
		err error
	)
	if r.Side != "" {
		t, err = n.labeled(r)
	} else {
		t, err = n.inferred(r)
	}
	if err != nil {
		return nil, err
	}

	if t.TokenAddress == "" {
		return nil, fmt.Errorf("%w: empty token address", ErrInvalidRecord)
	}
	if t.ValueUSD < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidRecord)
	}
	if t.Amount <= 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrNotATrade)
	}
	if t.UnitPriceUSD == 0 && t.ValueUSD > 0 {
		t.UnitPriceUSD = t.ValueUSD / t.Amount
	}
	return t, nil
}

func (n *Normalizer) labeled(r *RawTrade) (*domain.Trade, error) {
	if !r.Side.IsValid() {
		return nil, fmt.Errorf("%w: side %q", ErrInvalidRecord, r.Side)
	}
	if len(r.Legs) == 0 {
		return nil, fmt.Errorf("%w: no token leg", ErrInvalidRecord)
	}
	leg := r.Legs[0]
	if IsExcludedSymbol(leg.Symbol) {
		return nil, fmt.Errorf("%w: excluded symbol %s", ErrNotATrade, leg.Symbol)
	}
	if leg.TokenAddress != "" && n.registry.IsBase(leg.TokenAddress) {
		return nil, fmt.Errorf("%w: base asset %s", ErrNotATrade, leg.TokenAddress)
	}

	amount := n.legAmount(leg)
	t := &domain.Trade{
		Hash:         r.Hash,
		TimestampMs:  r.TimestampMs,
		TokenAddress: leg.TokenAddress,
		TokenSymbol:  leg.Symbol,
		Side:         r.Side,
		Amount:       amount,
		UnitPriceUSD: r.UnitPriceUSD,
		BlockHeight:  r.BlockHeight,
	}
	switch {
	case r.ValueUSD != nil:
		t.ValueUSD = *r.ValueUSD
	case r.UnitPriceUSD > 0:
		t.ValueUSD = r.UnitPriceUSD * amount
	}
	return t, nil
}

func (n *Normalizer) inferred(r *RawTrade) (*domain.Trade, error) {
	var (
		baseIn, baseOut         float64 // USD
		baseInSeen, baseOutSeen bool
		tokenIn, tokenOut       []Leg
	)

	for _, leg := range r.Legs {
		if asset, ok := n.registry.Lookup(leg.TokenAddress); ok {
			if leg.Decimals < 0 {
				leg.Decimals = asset.Decimals
			}
			usd := n.legAmount(leg) * n.basePrice(asset)
			if leg.Inflow {
				baseIn += usd
				baseInSeen = true
			} else {
				baseOut += usd
				baseOutSeen = true
			}
			continue
		}
		if IsExcludedSymbol(leg.Symbol) {
			continue
		}
		if leg.Inflow {
			tokenIn = append(tokenIn, leg)
		} else {
			tokenOut = append(tokenOut, leg)
		}
	}

	if !baseInSeen && !baseOutSeen {
		return nil, fmt.Errorf("%w: no base-asset leg", ErrNotATrade)
	}

	// Base flowing out of the wallet pays for a token: a buy.
	buy := baseOut > baseIn
	if baseOut == baseIn {
		// No USD to compare (native price unknown): use leg directions.
		switch {
		case baseOutSeen && !baseInSeen:
			buy = true
		case baseInSeen && !baseOutSeen:
			buy = false
		default:
			buy = len(tokenIn) > 0 && len(tokenOut) == 0
		}
	}

	var (
		side domain.Side
		legs []Leg
		usd  float64
	)
	if buy {
		side, legs, usd = domain.SideBuy, tokenIn, baseOut-baseIn
	} else {
		side, legs, usd = domain.SideSell, tokenOut, baseIn-baseOut
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("%w: no token leg for %s", ErrNotATrade, side)
	}
	if len(legs) > 1 && !sameToken(legs) {
		return nil, fmt.Errorf("%w: multiple traded tokens", ErrNotATrade)
	}

	var amount float64
	for _, l := range legs {
		amount += n.legAmount(l)
	}

	t := &domain.Trade{
		Hash:         r.Hash,
		TimestampMs:  r.TimestampMs,
		TokenAddress: legs[0].TokenAddress,
		TokenSymbol:  legs[0].Symbol,
		Side:         side,
		Amount:       amount,
		ValueUSD:     usd,
		UnitPriceUSD: r.UnitPriceUSD,
		BlockHeight:  r.BlockHeight,
	}
	if r.ValueUSD != nil {
		t.ValueUSD = *r.ValueUSD
	}
	return t, nil
}

// legAmount returns the leg amount in human units.
func (n *Normalizer) legAmount(l Leg) float64 {
	if l.RawAmount != "" && l.Decimals >= 0 {
		if v, err := FromRaw(l.RawAmount, l.Decimals); err == nil {
			return v
		}
	}
	decimals := l.Decimals
	if decimals < 0 {
		if asset, ok := n.registry.Lookup(l.TokenAddress); ok {
			decimals = asset.Decimals
		}
	}
	return CorrectScale(l.Amount, decimals)
}

func (n *Normalizer) basePrice(a BaseAsset) float64 {
	if a.Stable {
		return 1
	}
	return n.nativePriceUSD
}

func sameToken(legs []Leg) bool {
	for _, l := range legs[1:] {
		if !strings.EqualFold(l.TokenAddress, legs[0].TokenAddress) {
			return false
		}
	}
	return true
}
