// Package models holds the persisted trade ledger and its invariants.
package models

import (
	"time"
)

// OptionType identifies the side of an option contract using exchange notation.
type OptionType string

const (
	// OptionTypeCE represents a call option (exchange notation).
	OptionTypeCE OptionType = "CE"
	// OptionTypePE represents a put option (exchange notation).
	OptionTypePE OptionType = "PE"
)

// Valid returns true if the OptionType is one of the defined constants.
func (o OptionType) Valid() bool {
	switch o {
	case OptionTypeCE, OptionTypePE:
		return true
	default:
		return false
	}
}

// TradeLeg is one option position under management. A leg is append-only in
// the ledger; Closed transitions false->true exactly once via MarkClosed and
// is never reset.
type TradeLeg struct {
	Token         string     `json:"token"`
	Symbol        string     `json:"symbol"`
	TradingSymbol string     `json:"trading_symbol"`
	OptionType    OptionType `json:"option_type"`
	Strike        int        `json:"strike"`
	Expiry        string     `json:"expiry"`
	NetQty        int        `json:"net_qty"`
	TradedPrice   float64    `json:"traded_price"`
	Exchange      string     `json:"exchange"`
	Closed        bool       `json:"closed"`
}

// IsShort reports whether the leg is net short.
func (l *TradeLeg) IsShort() bool {
	return l.NetQty < 0
}

// MarkClosed flips the leg to closed. There is deliberately no inverse.
func (l *TradeLeg) MarkClosed() {
	l.Closed = true
}

// MTMPoint is one sample of the running unrealized P&L series.
type MTMPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Ledger is the per-trading-day trade record. TradeDetails preserves
// insertion order (trade order); MTM is append-only.
type Ledger struct {
	Date            string     `json:"date"`
	IsTradeExecuted bool       `json:"is_trade_executed"`
	IsTradeClosed   bool       `json:"is_trade_closed"`
	TradeDetails    []TradeLeg `json:"trade_details"`
	MTM             []MTMPoint `json:"mtm"`
}

// NewLedger returns a fresh zero-value ledger for the given date.
func NewLedger(date string) *Ledger {
	return &Ledger{
		Date:         date,
		TradeDetails: make([]TradeLeg, 0),
		MTM:          make([]MTMPoint, 0),
	}
}

// LegByToken returns the leg with the given instrument token, or nil.
func (d *Ledger) LegByToken(token string) *TradeLeg {
	for i := range d.TradeDetails {
		if d.TradeDetails[i].Token == token {
			return &d.TradeDetails[i]
		}
	}
	return nil
}

// HasLeg reports whether a leg with the given (strike, optionType) dedup key
// already exists. The key intentionally ignores expiry: that matches the
// observed reconciliation behavior, and two live expiries at the same strike
// would conflate here.
func (d *Ledger) HasLeg(strike int, optionType OptionType) bool {
	for i := range d.TradeDetails {
		if d.TradeDetails[i].Strike == strike && d.TradeDetails[i].OptionType == optionType {
			return true
		}
	}
	return false
}

// LegsAtStrike reports CE/PE presence at one strike.
func (d *Ledger) LegsAtStrike(strike int) (ce, pe bool) {
	for i := range d.TradeDetails {
		if d.TradeDetails[i].Strike != strike {
			continue
		}
		switch d.TradeDetails[i].OptionType {
		case OptionTypeCE:
			ce = true
		case OptionTypePE:
			pe = true
		}
	}
	return ce, pe
}

// OpenOptionTypes reports which option types the ledger still holds open,
// across all strikes. A closed leg no longer counts toward presence; the
// rebalance path uses this to re-open only the side that was stopped out.
func (d *Ledger) OpenOptionTypes() (ce, pe bool) {
	for i := range d.TradeDetails {
		if d.TradeDetails[i].Closed {
			continue
		}
		switch d.TradeDetails[i].OptionType {
		case OptionTypeCE:
			ce = true
		case OptionTypePE:
			pe = true
		}
	}
	return ce, pe
}

// StrikeTraded reports whether any leg was traded at the given strike.
func (d *Ledger) StrikeTraded(strike int) bool {
	ce, pe := d.LegsAtStrike(strike)
	return ce || pe
}

// NearestStrike returns the traded strike closest to atm. ok is false when
// the ledger holds no legs.
func (d *Ledger) NearestStrike(atm int) (strike int, ok bool) {
	best := 0
	bestDiff := -1
	for i := range d.TradeDetails {
		diff := d.TradeDetails[i].Strike - atm
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best = d.TradeDetails[i].Strike
			bestDiff = diff
		}
	}
	return best, bestDiff >= 0
}

// AppendLeg appends a leg preserving trade order.
func (d *Ledger) AppendLeg(leg TradeLeg) {
	d.TradeDetails = append(d.TradeDetails, leg)
}

// OpenLegs returns pointers to every un-closed leg with the given expiry.
func (d *Ledger) OpenLegs(expiry string) []*TradeLeg {
	var open []*TradeLeg
	for i := range d.TradeDetails {
		if !d.TradeDetails[i].Closed && d.TradeDetails[i].Expiry == expiry {
			open = append(open, &d.TradeDetails[i])
		}
	}
	return open
}

// AllClosed is true iff no leg with the given expiry remains open.
func (d *Ledger) AllClosed(expiry string) bool {
	return len(d.OpenLegs(expiry)) == 0
}

// AppendMTM appends one point to the MTM time series. Deliberately not
// idempotent: two calls in one cycle produce two points.
func (d *Ledger) AppendMTM(at time.Time, value float64) {
	d.MTM = append(d.MTM, MTMPoint{Time: at, Value: value})
}
