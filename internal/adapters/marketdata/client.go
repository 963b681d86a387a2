package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultYahooBase = "https://query1.finance.yahoo.com"

	// Yahoo no documenta límites; 2 req/s se mantiene lejos del bloqueo.
	yahooRatePerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// El breaker abre tras varias corridas de retries fallidas seguidas.
	breakerFailures = 5
	breakerTimeout  = 60 * time.Second
)

// ErrClientStatus envuelve las respuestas 4xx (distintas de 429). Son errores
// del pedido, como un símbolo desconocido, y no cuentan como fallas del breaker.
var ErrClientStatus = errors.New("client error")

// Client es el HTTP client de datos de mercado con rate limiting, retries y
// circuit breaker.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	retryWait time.Duration
}

// ClientOption configura un Client.
type ClientOption func(*Client)

// WithRetryWait cambia la espera base entre retries.
func WithRetryWait(d time.Duration) ClientOption {
	return func(c *Client) { c.retryWait = d }
}

// WithRateLimit cambia el límite de pedidos por segundo.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithHTTPClient reemplaza el http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient crea un Client. name identifica al breaker en los logs.
func NewClient(name string, opts ...ClientOption) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(yahooRatePerSec, 2),
		retryWait: baseRetryWait,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrClientStatus)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("market data circuit breaker", "name", name, "from", from.String(), "to", to.String())
		},
	})
	for _, o := range opts {
		o(c)
	}
	return c
}

// BreakerState devuelve el estado del circuit breaker.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// get hace un GET JSON a través del breaker.
func (c *Client) get(ctx context.Context, url string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doWithRetry(ctx, func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			req.Header.Set("User-Agent", "Mozilla/5.0 (ictbot)")
			return c.http.Do(req)
		}, out)
	})
	return err
}

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by market data API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("%w %d: %s", ErrClientStatus, resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
