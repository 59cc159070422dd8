package polymarket

// client.go: transporte HTTP de los tres endpoints que usa el simulador.
//
// Cada endpoint tiene su token bucket, su número de reintentos y su timeout
// por intento. POST /books corre justo tras un rollover y no puede esperar;
// Gamma decide si hay sesión y merece más paciencia; el último print es
// opcional y se abandona pronto.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"
	defaultDataBase  = "https://data-api.polymarket.com"

	maxErrorBody  = 512
	maxRetryAfter = 10 * time.Second
)

// APIError es una respuesta HTTP >= 400 del endpoint.
type APIError struct {
	Endpoint   string
	Status     int
	Body       string
	RetryAfter time.Duration // solo en 429, si vino la cabecera
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// endpoint es la política de llamada de una ruta.
type endpoint struct {
	name    string
	limiter *rate.Limiter
	retries int           // reintentos además del primer intento
	backoff time.Duration // se dobla en cada reintento
	timeout time.Duration // por intento
}

// wait devuelve la espera antes del reintento n (n >= 1).
func (ep *endpoint) wait(n int, lastErr error) time.Duration {
	d := ep.backoff << (n - 1)
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
	}
	return d
}

// Client habla con CLOB, Gamma y Data API. Safe for concurrent use.
type Client struct {
	http      *http.Client
	clobBase  string
	gammaBase string
	dataBase  string

	books   endpoint
	session endpoint
	trades  endpoint
}

// NewClient crea un Client con los base URLs dados.
// Los que estén vacíos usan los URLs de producción.
func NewClient(clobBase, gammaBase, dataBase string) *Client {
	return &Client{
		http:      &http.Client{},
		clobBase:  orDefault(clobBase, defaultCLOBBase),
		gammaBase: orDefault(gammaBase, defaultGammaBase),
		dataBase:  orDefault(dataBase, defaultDataBase),

		// Rate limits al 60% de los documentados.
		// CLOB /books: 500/10s → 30/s.
		books: endpoint{
			name:    "POST /books",
			limiter: rate.NewLimiter(30, 5),
			retries: 2,
			backoff: 200 * time.Millisecond,
			timeout: 5 * time.Second,
		},
		// Gamma /events: 300/10s → 18/s.
		session: endpoint{
			name:    "GET /events/slug",
			limiter: rate.NewLimiter(18, 4),
			retries: 4,
			backoff: 500 * time.Millisecond,
			timeout: 10 * time.Second,
		},
		// Data API /trades: dos tokens por rollover, no hace falta más.
		trades: endpoint{
			name:    "GET /trades",
			limiter: rate.NewLimiter(10, 4),
			retries: 1,
			backoff: 250 * time.Millisecond,
			timeout: 5 * time.Second,
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// call ejecuta method sobre url con la política de ep y decodifica el JSON
// en out. Los 4xx salvo 429 no se reintentan.
func (c *Client) call(ctx context.Context, ep *endpoint, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", ep.name, err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= ep.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, ep.wait(attempt, lastErr)); err != nil {
				return fmt.Errorf("%s: %w", ep.name, err)
			}
		}
		if err := ep.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", ep.name, err)
		}

		retry, err := c.once(ctx, ep, method, url, payload, out)
		if err == nil {
			return nil
		}
		if !retry || ctx.Err() != nil {
			return err
		}
		lastErr = err
		slog.Debug("polymarket: retrying request", "endpoint", ep.name, "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", ep.name, ep.retries+1, lastErr)
}

// once hace un intento. retry indica si el fallo es transitorio.
func (c *Client) once(ctx context.Context, ep *endpoint, method, url string, payload []byte, out any) (retry bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, ep.timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, rd)
	if err != nil {
		return false, fmt.Errorf("%s: %w", ep.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s: %w", ep.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Endpoint: ep.name, Status: resp.StatusCode, Body: string(b)}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			slog.Warn("polymarket: rate limited by API", "endpoint", ep.name, "retry_after", apiErr.RetryAfter)
		}
		return apiErr.retryable(), apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%s: decode response: %w", ep.name, err)
	}
	return false, nil
}

// parseRetryAfter acepta segundos enteros; acotado a maxRetryAfter.
func parseRetryAfter(v string) time.Duration {
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0
	}
	return min(time.Duration(sec)*time.Second, maxRetryAfter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
