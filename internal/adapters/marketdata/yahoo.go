package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// Yahoo sólo sirve estos intervalos; 4h se arma resampleando 60m.
var yahooIntervals = map[domain.Timeframe]struct {
	interval string
	native   domain.Timeframe
	lookback string // rango por defecto cuando no se pide From
}{
	domain.TF1m:  {"1m", domain.TF1m, "7d"},
	domain.TF5m:  {"5m", domain.TF5m, "60d"},
	domain.TF15m: {"15m", domain.TF15m, "60d"},
	domain.TF30m: {"30m", domain.TF30m, "60d"},
	domain.TF1h:  {"60m", domain.TF1h, "730d"},
	domain.TF4h:  {"60m", domain.TF1h, "730d"},
	domain.TF1d:  {"1d", domain.TF1d, "5y"},
}

// chartResponse es la respuesta de /v8/finance/chart. Los precios pueden
// venir null en velas sin operaciones.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooSource implementa ports.BarSource contra el chart API de Yahoo Finance.
type YahooSource struct {
	client *Client
	base   string
}

// NewYahooSource crea la fuente. Si base está vacío usa el host de producción.
func NewYahooSource(base string, opts ...ClientOption) *YahooSource {
	if base == "" {
		base = defaultYahooBase
	}
	return &YahooSource{client: NewClient("yahoo", opts...), base: base}
}

// FetchBars descarga, limpia y valida la serie pedida.
func (y *YahooSource) FetchBars(ctx context.Context, req domain.BarRequest) (domain.Series, error) {
	spec, ok := yahooIntervals[req.Timeframe]
	if !ok {
		return domain.Series{}, fmt.Errorf("yahoo.FetchBars: unsupported timeframe %q", req.Timeframe)
	}

	q := url.Values{}
	q.Set("interval", spec.interval)
	q.Set("includePrePost", "false")
	if req.From.IsZero() {
		q.Set("range", spec.lookback)
	} else {
		to := req.To
		if to.IsZero() {
			to = time.Now()
		}
		q.Set("period1", fmt.Sprint(req.From.Unix()))
		q.Set("period2", fmt.Sprint(to.Unix()))
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.base, url.PathEscape(req.Symbol), q.Encode())

	var resp chartResponse
	if err := y.client.get(ctx, u, &resp); err != nil {
		return domain.Series{}, fmt.Errorf("yahoo.FetchBars %s %s: %w", req.Symbol, req.Timeframe, err)
	}
	if e := resp.Chart.Error; e != nil {
		return domain.Series{}, fmt.Errorf("yahoo.FetchBars %s: %s: %s", req.Symbol, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return domain.Series{}, fmt.Errorf("yahoo.FetchBars %s %s: no data returned", req.Symbol, req.Timeframe)
	}

	s := toSeries(req.Symbol, spec.native, resp)
	if spec.native != req.Timeframe {
		var err error
		if s, err = s.Resample(req.Timeframe); err != nil {
			return domain.Series{}, fmt.Errorf("yahoo.FetchBars: %w", err)
		}
	}
	if err := s.Validate(); err != nil {
		return domain.Series{}, fmt.Errorf("yahoo.FetchBars: %w", err)
	}
	return s, nil
}

// toSeries descarta las velas con algún precio null.
func toSeries(symbol string, tf domain.Timeframe, resp chartResponse) domain.Series {
	r := resp.Chart.Result[0]
	qt := r.Indicators.Quote[0]
	s := domain.Series{Symbol: symbol, Timeframe: tf, Bars: make([]domain.Bar, 0, len(r.Timestamp))}

	at := func(vals []*float64, i int) (float64, bool) {
		if i >= len(vals) || vals[i] == nil {
			return 0, false
		}
		return *vals[i], true
	}

	for i, ts := range r.Timestamp {
		o, ok1 := at(qt.Open, i)
		h, ok2 := at(qt.High, i)
		l, ok3 := at(qt.Low, i)
		c, ok4 := at(qt.Close, i)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		v, _ := at(qt.Volume, i)
		b := domain.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		}
		// la vela en curso a veces llega repetida al final
		if n := len(s.Bars); n > 0 && b.Time.Equal(s.Bars[n-1].Time) {
			s.Bars[n-1] = b
			continue
		}
		s.Bars = append(s.Bars, b)
	}
	return s
}
