// Package httpclient is the shared outbound HTTP layer used by every indexer
// and download client: a pooled transport, bounded retries on idempotent verbs,
// and optional named throttles.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultUserAgent = "acquire/1.0 (+https://github.com/slipstream/acquire)"

// Config controls pooling, retries and throttling.
type Config struct {
	Timeout   time.Duration
	PoolSize  int
	Attempts  uint
	Backoff   time.Duration
	UserAgent string
	// Throttle maps a lock name to the minimum interval between requests
	// holding that lock. Names without an entry are not serialized.
	Throttle map[string]time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   20 * time.Second,
		PoolSize:  20,
		Attempts:  3,
		Backoff:   time.Second,
		UserAgent: DefaultUserAgent,
	}
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// StatusError is returned for responses with a status of 400 or above.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return "request to " + e.URL + " returned status " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

// IsServer reports whether the failure was the server's fault.
func (e *StatusError) IsServer() bool { return e.Code >= 500 }

// IsClient reports whether the failure was caused by the request.
func (e *StatusError) IsClient() bool { return e.Code >= 400 && e.Code < 500 }

// Cause classifies an error as "server", "client" or "transport".
func Cause(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		if se.IsServer() {
			return "server"
		}
		return "client"
	}
	return "transport"
}

// Request describes one outbound call.
type Request struct {
	Method      string
	URL         string
	Params      url.Values
	Headers     map[string]string
	Body        []byte
	ContentType string
	Username    string
	Password    string
	// Lock names a throttle shared by every request using the same name.
	Lock string
	// WhitelistStatus lists error statuses that should be returned as a
	// normal response instead of an error.
	WhitelistStatus []int
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type namedLock struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// Client is safe for concurrent use. All copies made with WithJar share the
// same transport and throttles.
type Client struct {
	cfg        Config
	http       *http.Client
	noRedirect *http.Client
	shared     *shared
	logger     zerolog.Logger
}

type shared struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

// New creates a pooled client.
func New(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.PoolSize
	transport.MaxIdleConnsPerHost = cfg.PoolSize
	transport.MaxConnsPerHost = cfg.PoolSize

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		noRedirect: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		shared: &shared{locks: make(map[string]*namedLock)},
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// WithJar returns a client that keeps cookies in its own jar. Used for
// providers that hold a login session.
func (c *Client) WithJar() *Client {
	jar, _ := cookiejar.New(nil)
	cp := *c
	httpCopy := *c.http
	httpCopy.Jar = jar
	cp.http = &httpCopy
	noRedirect := *c.noRedirect
	noRedirect.Jar = jar
	cp.noRedirect = &noRedirect
	return &cp
}

// Jar exposes the cookie jar, nil when the client was not built with WithJar.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// UserAgent returns the configured agent string.
func (c *Client) UserAgent() string {
	return c.cfg.UserAgent
}

func (c *Client) lockFor(name string) *namedLock {
	if name == "" {
		return nil
	}
	interval, ok := c.cfg.Throttle[name]
	if !ok {
		return nil
	}

	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()

	l, ok := c.shared.locks[name]
	if !ok {
		limit := rate.Inf
		if interval > 0 {
			limit = rate.Every(interval)
		}
		l = &namedLock{limiter: rate.NewLimiter(limit, 1)}
		c.shared.locks[name] = l
	}
	return l
}

// Do performs the request, retrying transient failures on idempotent verbs.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.do(ctx, c.http, req)
}

func (c *Client) do(ctx context.Context, hc *http.Client, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if l := c.lockFor(req.Lock); l != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "throttle wait")
		}
	}

	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %q", req.URL)
	}

	attempts := uint(1)
	if idempotentMethods[req.Method] {
		attempts = c.cfg.Attempts
	}

	var resp *Response
	err = retry.Do(
		func() error {
			r, err := c.once(ctx, hc, req, target)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(c.cfg.Backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Err(err).Uint("attempt", n+1).Str("url", redact(target)).Msg("Retrying request")
		}),
	)
	if err != nil {
		c.logger.Warn().Err(err).Str("cause", Cause(err)).Str("url", redact(target)).Msg("Request failed")
		return nil, err
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, hc *http.Client, req *Request, target string) (*Response, error) {
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Username != "" || req.Password != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "http request")
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}

	if httpResp.StatusCode >= 400 && !whitelisted(req.WhitelistStatus, httpResp.StatusCode) {
		return resp, &StatusError{Code: httpResp.StatusCode, URL: redact(target)}
	}
	return resp, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return retryableStatus[se.Code]
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func whitelisted(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func buildURL(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redact strips credentials from query strings before they reach the logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, k := range []string{"apikey", "api", "passkey", "password", "torrent_pass", "authkey"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	u.User = nil
	return u.String()
}

// Get fetches a URL and returns the raw body.
func (c *Client) Get(ctx context.Context, req *Request) ([]byte, error) {
	req.Method = http.MethodGet
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetJSON fetches a URL and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, req *Request, v any) error {
	body, err := c.Get(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "decode json")
	}
	return nil
}

// GetXML fetches a URL and decodes the XML body into v.
func (c *Client) GetXML(ctx context.Context, req *Request, v any) error {
	body, err := c.Get(ctx, req)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "decode xml")
	}
	return nil
}

// GetDocument fetches an HTML page for goquery scraping.
func (c *Client) GetDocument(ctx context.Context, req *Request) (*goquery.Document, error) {
	body, err := c.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	return doc, nil
}

// PostForm sends a url-encoded form. POSTs are never retried.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, lock string) (*Response, error) {
	return c.Do(ctx, &Request{
		Method:      http.MethodPost,
		URL:         rawURL,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Lock:        lock,
	})
}

// Redirect is the outcome of ResolveRedirect.
type Redirect struct {
	Location string
	Body     []byte
}

// IsMagnet reports whether the redirect points at a magnet URI.
func (r *Redirect) IsMagnet() bool {
	return strings.HasPrefix(r.Location, "magnet:")
}

// ResolveRedirect performs a GET without following redirects. When the
// server answers with a Location header it is returned; otherwise the body is.
func (c *Client) ResolveRedirect(ctx context.Context, req *Request) (*Redirect, error) {
	req.Method = http.MethodGet
	resp, err := c.do(ctx, c.noRedirect, req)
	if err != nil {
		return nil, err
	}
	if loc := resp.Header.Get("Location"); loc != "" && loc != req.URL {
		return &Redirect{Location: loc}, nil
	}
	return &Redirect{Body: resp.Body}, nil
}
