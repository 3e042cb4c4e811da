package responder

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Relay-Signature"

// HTTPClient calls a remote response engine over JSON/HTTP.
type HTTPClient struct {
	url     string
	secret  []byte
	timeout time.Duration
	http    *http.Client
}

type HTTPClientOption func(*HTTPClient)

func WithHTTPTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.timeout = d
	}
}

func WithHTTPDoer(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewHTTPClient(url, secret string, opts ...HTTPClientOption) (*HTTPClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("engine url is empty")
	}
	c := &HTTPClient{
		url:     url,
		secret:  []byte(secret),
		timeout: 30 * time.Second,
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *HTTPClient) Respond(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "marshal engine request")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(err, "build engine request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		httpReq.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, errors.Wrap(err, "call engine")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, errors.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, errors.Wrap(err, "decode engine response")
	}
	if out.Confidence != nil && (*out.Confidence < 0 || *out.Confidence > 1) {
		return Result{}, errors.Errorf("engine confidence %v out of range", *out.Confidence)
	}
	return out, nil
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value produced by Sign.
func VerifySignature(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(header)))
}
