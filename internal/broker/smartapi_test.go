package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[TEST] ", log.LstdFlags)
}

// totpTestSecret is a valid base32 secret for TOTP generation in tests.
const totpTestSecret = "JBSWY3DPEHPK3PXP"

func newTestClient(t *testing.T, handler http.Handler) *SmartAPIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewSmartAPIClient(
		Credentials{APIKey: "key", ClientCode: "K123456", PIN: "1234", TOTPSecret: totpTestSecret},
		testLogger(),
		WithBaseURL(srv.URL),
		WithPacing(time.Millisecond),
	)
}

func TestGenerateSession(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routeLogin, r.URL.Path)
		require.Equal(t, "key", r.Header.Get("X-PrivateKey"))
		require.NoError(t, jsonDecode(r, &gotBody))
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"jwtToken":"jwt-1","refreshToken":"r-1","feedToken":"f-1"}}`)
	}))

	sess, err := client.GenerateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", sess.JWTToken)
	assert.Equal(t, "K123456", gotBody["clientcode"])
	assert.NotEmpty(t, gotBody["totp"], "login must carry a generated TOTP")
}

func TestGenerateSessionRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`)
	}))

	_, err := client.GenerateSession(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AB1050", apiErr.Code)
	assert.Equal(t, "generateSession", apiErr.Op)
}

func TestGetPositionsCoercion(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routePositions, r.URL.Path)
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":[
			{"symboltoken":"48756","tradingsymbol":"BANKNIFTY24SEP2645000CE","symbolname":"BANKNIFTY",
			 "exchange":"NFO","optiontype":"CE","expirydate":"24SEP2026","strikeprice":"45000",
			 "netqty":"-15","netprice":"312.55","ltp":"298.10","unrealised":"216.75"}
		]}`)
	}))

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "48756", p.Token)
	assert.Equal(t, 45000, p.Strike)
	assert.Equal(t, -15, p.NetQty)
	assert.InDelta(t, 312.55, p.NetPrice, 1e-9)
	assert.InDelta(t, 216.75, p.Unrealised, 1e-9)
}

func TestGetPositionsBadNumeric(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":[
			{"symboltoken":"48756","tradingsymbol":"X","optiontype":"CE","strikeprice":"45000",
			 "netqty":"not-a-number","netprice":"0","ltp":"0","unrealised":"0"}
		]}`)
	}))

	_, err := client.GetPositions(context.Background())
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr, "coercion failure must be a typed error")
	assert.Equal(t, "netqty", fieldErr.Field)
}

func TestGetPositionsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":null}`)
	}))

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestGetLTP(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routeLTP, r.URL.Path)
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"ltp":45037.4}}`)
	}))

	ltp, err := client.GetLTP(context.Background(), "NFO", "BANKNIFTY26SEPFUT", "48123")
	require.NoError(t, err)
	assert.InDelta(t, 45037.4, ltp, 1e-9)
}

func TestPlaceOrder(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routeOrder, r.URL.Path)
		require.NoError(t, jsonDecode(r, &gotBody))
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"orderid":"230901000000123","uniqueorderid":"u-1"}}`)
	}))

	resp, err := client.PlaceOrder(context.Background(), OrderRequest{
		Exchange:        ExchangeNFO,
		TradingSymbol:   "BANKNIFTY24SEP2645000CE",
		Token:           "48756",
		Quantity:        15,
		TransactionType: TransactionSell,
		ProductType:     ProductTypeCarryForward,
		OrderType:       OrderTypeMarket,
		Variety:         VarietyNormal,
		Duration:        DurationDay,
		Tag:             "straddle-ce",
	})
	require.NoError(t, err)
	assert.True(t, resp.Status)
	assert.Equal(t, "230901000000123", resp.OrderID)
	assert.Equal(t, "SELL", gotBody["transactiontype"])
	assert.Equal(t, "15", gotBody["quantity"])
	assert.Equal(t, "straddle-ce", gotBody["ordertag"])
}

func TestPlaceOrderRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"status":false,"message":"Insufficient funds","errorcode":"AB1004","data":null}`)
	}))

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Quantity: 15, TransactionType: TransactionSell,
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AB1004", apiErr.Code)
}

func TestPlaceOrderRejectsNonPositiveQuantity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	}))
	_, err := client.PlaceOrder(context.Background(), OrderRequest{Quantity: 0})
	require.Error(t, err)
}

func TestGetMargin(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routeRMS, r.URL.Path)
		writeJSON(w, `{"status":true,"message":"SUCCESS","errorcode":"","data":{"net":"512000.25","availablecash":"500000.00","utiliseddebits":"12000.25"}}`)
	}))

	m, err := client.GetMargin(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 512000.25, m.Net, 1e-9)
}

func TestHTTPErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GetMargin(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatus)
}

func TestCircuitBreakerTripsAfterFailures(t *testing.T) {
	mock := NewMockBroker()
	mock.PositionsErr = errors.New("boom")

	cb := NewCircuitBreakerBrokerWithSettings(mock, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.GetPositions(ctx)
		require.Error(t, err)
	}

	// Breaker should now be open and fail fast without reaching the broker.
	placed := len(mock.PlacedOrders)
	_, err := cb.PlaceOrder(ctx, OrderRequest{Quantity: 15})
	require.Error(t, err)
	assert.Equal(t, placed, len(mock.PlacedOrders), "open breaker must not call through")
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func jsonDecode(r *http.Request, out any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(out)
}
