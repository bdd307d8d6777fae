package audit

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"
)

// Request describes a single route probe. The virtual host travels in the
// Host header because all routes share one proxy address.
type Request struct {
	URL        string
	HostHeader string
	Username   string
	Password   string
}

// Response carries the observed status code. Bodies are never read; route
// probes only classify reachability.
type Response struct {
	StatusCode int
}

// HTTPProber issues route probe requests. Implementations must not follow
// redirects so 3xx codes stay observable.
type HTTPProber interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// InsecureProber probes routes over HTTP(S) while skipping certificate
// verification. The proxy serves self-signed or host-mismatched certificates
// on loopback, so verification would fail every audit.
type InsecureProber struct {
	client *http.Client
}

// NewInsecureProber constructs a prober with the given per-request timeout.
func NewInsecureProber(timeout time.Duration) *InsecureProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InsecureProber{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- loopback probe against self-signed proxy certs
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do implements HTTPProber.
func (p *InsecureProber) Do(ctx context.Context, req Request) (Response, error) {
	if req.URL == "" {
		return Response{}, errors.New("probe request requires a url")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Response{}, err
	}
	if req.HostHeader != "" {
		httpReq.Host = req.HostHeader
	}
	if req.Username != "" || req.Password != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	return Response{StatusCode: resp.StatusCode}, nil
}

var _ HTTPProber = (*InsecureProber)(nil)
