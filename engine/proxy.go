package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ProxyStrategy fetches the target through a fetch-proxy endpoint that
// takes the percent-encoded target appended to its base URL, such as a
// Cloudflare Worker answering "?url=<target>".
type ProxyStrategy struct {
	base    string
	name    string
	client  *resty.Client
	limiter *rate.Limiter
}

// ProxyOptions configures a ProxyStrategy.
type ProxyOptions struct {
	// RPS paces requests through this endpoint. Zero means unlimited.
	RPS float64

	// Bypass wraps the transport with Cloudflare-friendly TLS settings
	// and headers.
	Bypass bool
}

// NewProxyStrategy creates a strategy for one proxy base URL.
func NewProxyStrategy(base string, opts ProxyOptions) *ProxyStrategy {
	client := resty.New()
	if opts.Bypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(2 * time.Minute)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return limiter.Wait(r.Context())
	})

	name := string(KindProxy)
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		name += ":" + u.Host
	}

	return &ProxyStrategy{
		base:    base,
		name:    name,
		client:  client,
		limiter: limiter,
	}
}

func (s *ProxyStrategy) Name() string       { return s.name }
func (s *ProxyStrategy) Kind() StrategyKind { return KindProxy }

func (s *ProxyStrategy) Fetch(ctx context.Context, req *FetchRequest) (*Response, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeaders(browserHeaders(req.URL, req.Headers)).
		Get(ProxyURL(s.base, req.URL))
	if err != nil {
		return nil, fmt.Errorf("proxy: %s: %w", s.name, err)
	}

	return &Response{
		Body:        string(resp.Body()),
		StatusCode:  resp.StatusCode(),
		FinalURL:    req.URL,
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// ProxyURL builds the proxied form of target: base followed by target
// percent-encoded like JavaScript's encodeURIComponent.
func ProxyURL(base, target string) string {
	return base + encodeURIComponent(target)
}

// encodeURIComponent leaves A-Z a-z 0-9 - _ . ! ~ * ' ( ) unescaped.
func encodeURIComponent(s string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	for _, c := range []string{"!", "'", "(", ")", "*"} {
		escaped = strings.ReplaceAll(escaped, url.QueryEscape(c), c)
	}
	return escaped
}
