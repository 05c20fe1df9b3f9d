// Package binance is the spot market-data and market-order client for Binance.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"llm-crypto-trader/internal/api"
	"llm-crypto-trader/internal/auth"
	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/types"
)

const (
	klinesPath = "/api/v3/klines"
	orderPath  = "/api/v3/order"

	// MaxKlines is the largest page the klines endpoint returns.
	MaxKlines = 1000
)

type Params struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	Credentials       auth.Credentials
	// RecvWindow bounds how stale a signed request may be, in milliseconds.
	RecvWindow int
}

func ParamsFromConfig(cfg *store.Config, creds auth.Credentials) Params {
	p := Params{
		BaseURL:     cfg.Exchange.BaseURL,
		Timeout:     cfg.ExchangeTimeout(),
		Credentials: creds,
	}
	if cfg.Exchange.EnableRateLimit {
		p.RequestsPerMinute = cfg.Exchange.RequestsPerMinute
	}
	return p
}

type Binance struct {
	p       Params
	http    *api.Client
	symbols *symbolMapper
	now     func() time.Time
}

var _ interfaces.Exchange = (*Binance)(nil)

func New(p Params, opts ...api.ClientOption) *Binance {
	base := []api.ClientOption{api.WithBaseURL(p.BaseURL), api.WithLogging(true)}
	if p.Timeout > 0 {
		base = append(base, api.WithTimeout(p.Timeout))
	}
	if p.RequestsPerMinute > 0 {
		base = append(base, api.WithRateLimit(api.PerMinute(p.RequestsPerMinute)))
	}
	if p.RecvWindow == 0 {
		p.RecvWindow = 5000
	}
	return &Binance{
		p:       p,
		http:    api.NewClient(append(base, opts...)...),
		symbols: newSymbolMapper(),
		now:     time.Now,
	}
}

// FetchOHLCV returns up to limit candles opening at or after since, oldest first.
func (b *Binance) FetchOHLCV(ctx context.Context, asset, interval string, since time.Time, limit int) ([]types.Candle, error) {
	if limit <= 0 || limit > MaxKlines {
		limit = MaxKlines
	}
	q := url.Values{}
	q.Set("symbol", b.symbols.exchangeSymbol(asset))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	req := api.NewRequest(http.MethodGet, klinesPath).WithContext(ctx).WithQuery(q)
	resp, err := b.http.DoWithRetry(req, &api.RetryConfig{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 4 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s: %v", types.ErrDataUnavailable, asset, err)
	}

	var rows [][]json.RawMessage
	if err := resp.ParseJSON(&rows); err != nil {
		return nil, fmt.Errorf("%w: klines %s: %v", types.ErrDataUnavailable, asset, err)
	}
	out := make([]types.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("%w: klines %s row %d: %v", types.ErrDataUnavailable, asset, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, ...].
func parseKline(row []json.RawMessage) (types.Candle, error) {
	if len(row) < 6 {
		return types.Candle{}, fmt.Errorf("want at least 6 fields, got %d", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return types.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var f [5]float64
	for i := range f {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return types.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		f[i] = v
	}
	return types.Candle{
		Ts:     time.UnixMilli(openMs).UTC(),
		Open:   f[0],
		High:   f[1],
		Low:    f[2],
		Close:  f[3],
		Volume: f[4],
	}, nil
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// PlaceMarketOrder submits a signed MARKET order. Orders are not retried: a
// timed out request may still have been executed.
func (b *Binance) PlaceMarketOrder(ctx context.Context, asset string, side types.Side, qty float64) (types.ExecutionReport, error) {
	if b.p.Credentials.APIKey == "" || b.p.Credentials.Secret == "" {
		return types.ExecutionReport{}, fmt.Errorf("%w: missing API key/secret", types.ErrOrder)
	}
	if qty <= 0 {
		return types.ExecutionReport{}, fmt.Errorf("%w: quantity %v is not positive", types.ErrOrder, qty)
	}

	form := url.Values{}
	form.Set("symbol", b.symbols.exchangeSymbol(asset))
	form.Set("side", string(side))
	form.Set("type", "MARKET")
	form.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	form.Set("newOrderRespType", "FULL")
	form.Set("recvWindow", strconv.Itoa(b.p.RecvWindow))
	form.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	payload := form.Encode()
	body := payload + "&signature=" + sign(b.p.Credentials.Secret, payload)

	req := api.NewRequest(http.MethodPost, orderPath).
		WithContext(ctx).
		WithRawForm(body).
		WithHeader("X-MBX-APIKEY", b.p.Credentials.APIKey)
	resp, err := b.http.Do(req)
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			return types.ExecutionReport{}, fmt.Errorf("%w: %s %s rejected (HTTP %d): %s", types.ErrOrder, side, asset, se.StatusCode, se.Body)
		}
		return types.ExecutionReport{}, fmt.Errorf("%w: %s %s: %v", types.ErrOrder, side, asset, err)
	}

	var or orderResponse
	if err := resp.ParseJSON(&or); err != nil {
		return types.ExecutionReport{}, fmt.Errorf("%w: %s %s: %v", types.ErrOrder, side, asset, err)
	}
	return or.report()
}

func (or orderResponse) report() (types.ExecutionReport, error) {
	rep := types.ExecutionReport{OrderID: strconv.FormatInt(or.OrderID, 10), Status: or.Status}
	executed, _ := strconv.ParseFloat(or.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(or.CummulativeQuoteQty, 64)
	if executed <= 0 {
		return rep, nil
	}
	rep.FilledQuantity = executed
	rep.FilledPrice = quote / executed
	if quote == 0 && len(or.Fills) > 0 {
		// older accounts only report per-fill prices
		var qtySum, valSum float64
		for _, f := range or.Fills {
			p, _ := strconv.ParseFloat(f.Price, 64)
			q, _ := strconv.ParseFloat(f.Qty, 64)
			qtySum += q
			valSum += p * q
		}
		if qtySum > 0 {
			rep.FilledPrice = valSum / qtySum
		}
	}
	return rep, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
