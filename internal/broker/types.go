package broker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/kunalshah/dalal_straddler/internal/models"
)

// TransactionType is the order direction.
type TransactionType string

const (
	// TransactionBuy buys to open or close.
	TransactionBuy TransactionType = "BUY"
	// TransactionSell sells to open or close.
	TransactionSell TransactionType = "SELL"
)

// Order constants for the SmartAPI order payload.
const (
	OrderTypeMarket         = "MARKET"
	VarietyNormal           = "NORMAL"
	DurationDay             = "DAY"
	ProductTypeCarryForward = "CARRYFORWARD"
	ExchangeNFO             = "NFO"
)

// Session holds the tokens returned by a successful login.
type Session struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// OrderRequest describes a single order submission.
type OrderRequest struct {
	Exchange        string
	TradingSymbol   string
	Token           string
	Quantity        int
	TransactionType TransactionType
	ProductType     string
	OrderType       string
	Variety         string
	Duration        string
	Tag             string
}

// OrderResponse is the broker's order confirmation. Status carries the
// truthy success flag the ledger logic keys on.
type OrderResponse struct {
	Status        bool
	OrderID       string
	UniqueOrderID string
	Message       string
}

// Position is one broker-reported position, already coerced from the wire
// representation. It is a transient per-cycle snapshot, never persisted.
type Position struct {
	Token         string
	TradingSymbol string
	SymbolName    string
	Exchange      string
	OptionType    models.OptionType
	Expiry        string
	Strike        int
	NetQty        int
	NetPrice      float64
	LTP           float64
	Unrealised    float64
}

// MarginSnapshot is the account margin summary (informational only).
type MarginSnapshot struct {
	Net            float64
	AvailableCash  float64
	UtilisedDebits float64
}

// FieldError reports a payload field that failed validation or numeric
// coercion. Coercion failures are typed errors, never silent zero defaults.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: invalid value %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func parseIntField(field, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &FieldError{Field: field, Value: value, Err: err}
	}
	return n, nil
}

func parseFloatField(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &FieldError{Field: field, Value: value, Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &FieldError{Field: field, Value: value, Err: fmt.Errorf("not finite")}
	}
	return f, nil
}

// rawPosition mirrors the SmartAPI position payload, where numerics arrive
// as strings.
type rawPosition struct {
	SymbolToken   string `json:"symboltoken"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolName    string `json:"symbolname"`
	Exchange      string `json:"exchange"`
	OptionType    string `json:"optiontype"`
	ExpiryDate    string `json:"expirydate"`
	StrikePrice   string `json:"strikeprice"`
	NetQty        string `json:"netqty"`
	NetPrice      string `json:"netprice"`
	LTP           string `json:"ltp"`
	Unrealised    string `json:"unrealised"`
}

func (r *rawPosition) toPosition() (Position, error) {
	var p Position

	if r.SymbolToken == "" {
		return p, &FieldError{Field: "symboltoken", Value: "", Err: fmt.Errorf("required")}
	}

	netQty, err := parseIntField("netqty", r.NetQty)
	if err != nil {
		return p, err
	}
	strike, err := parseFloatField("strikeprice", r.StrikePrice)
	if err != nil {
		return p, err
	}
	netPrice, err := parseFloatField("netprice", r.NetPrice)
	if err != nil {
		return p, err
	}
	ltp, err := parseFloatField("ltp", r.LTP)
	if err != nil {
		return p, err
	}
	unrealised, err := parseFloatField("unrealised", r.Unrealised)
	if err != nil {
		return p, err
	}

	optType := models.OptionType(r.OptionType)
	if r.OptionType != "" && !optType.Valid() {
		return p, &FieldError{Field: "optiontype", Value: r.OptionType, Err: fmt.Errorf("unknown option type")}
	}

	return Position{
		Token:         r.SymbolToken,
		TradingSymbol: r.TradingSymbol,
		SymbolName:    r.SymbolName,
		Exchange:      r.Exchange,
		OptionType:    optType,
		Expiry:        r.ExpiryDate,
		Strike:        int(math.Round(strike)),
		NetQty:        netQty,
		NetPrice:      netPrice,
		LTP:           ltp,
		Unrealised:    unrealised,
	}, nil
}

// rawMargin mirrors the SmartAPI RMS payload.
type rawMargin struct {
	Net            string `json:"net"`
	AvailableCash  string `json:"availablecash"`
	UtilisedDebits string `json:"utiliseddebits"`
}

func (r *rawMargin) toMargin() (MarginSnapshot, error) {
	var m MarginSnapshot

	net, err := parseFloatField("net", r.Net)
	if err != nil {
		return m, err
	}
	cash, err := parseFloatField("availablecash", r.AvailableCash)
	if err != nil {
		return m, err
	}
	debits, err := parseFloatField("utiliseddebits", r.UtilisedDebits)
	if err != nil {
		return m, err
	}

	return MarginSnapshot{Net: net, AvailableCash: cash, UtilisedDebits: debits}, nil
}

// rawLTP mirrors the SmartAPI LTP payload.
type rawLTP struct {
	LTP json.Number `json:"ltp"`
}

func (r *rawLTP) value() (float64, error) {
	f, err := r.LTP.Float64()
	if err != nil {
		return 0, &FieldError{Field: "ltp", Value: r.LTP.String(), Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &FieldError{Field: "ltp", Value: r.LTP.String(), Err: fmt.Errorf("not finite")}
	}
	return f, nil
}
