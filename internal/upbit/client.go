// Package upbit is a small REST client for the Upbit exchange: minute
// candles, tickers, accounts and market orders.
package upbit

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smtm/internal/logger"
	"smtm/internal/pkg/circuit"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL       = "https://api.upbit.com"
	MaxCandlesPerRequest = 200
)

type Config struct {
	BaseURL           string
	AccessKey         string
	SecretKey         string
	Timeout           time.Duration
	RequestsPerSecond float64
	BreakerThreshold  int
	BreakerTimeout    time.Duration
	HTTPClient        *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client
	limiter   *rate.Limiter
	orders    *circuit.Breaker
	log       *logger.Logger
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:   base,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		orders:    circuit.New("upbit-orders", cfg.BreakerThreshold, cfg.BreakerTimeout).CountOnly(IsTransient),
		log:       logger.Named("upbit"),
	}
}

// HasCredentials reports whether private endpoints can be signed.
func (c *Client) HasCredentials() bool {
	return c.accessKey != "" && c.secretKey != ""
}

type request struct {
	method string
	path   string
	query  url.Values
	body   map[string]string
	signed bool
}

func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if req.signed {
		params := req.query
		if req.body != nil {
			params = url.Values{}
			for k, v := range req.body {
				params.Set(k, v)
			}
		}
		token, err := c.token(params)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		c.log.Debugf("%s %s -> %d %s", req.method, req.path, resp.StatusCode, apiErr.Name)
		return nil, apiErr
	}
	return raw, nil
}

// token builds the HS256 JWT Upbit expects on private endpoints.
func (c *Client) token(params url.Values) (string, error) {
	if !c.HasCredentials() {
		return "", fmt.Errorf("upbit: access/secret key not configured")
	}
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(queryString(params)))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
}

// queryString is the unescaped form that Upbit hashes.
func queryString(params url.Values) string {
	s, err := url.QueryUnescape(params.Encode())
	if err != nil {
		return params.Encode()
	}
	return s
}
