package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuki/voicerag/internal/metrics"
)

// DefaultTokenURL is the Azure Speech token endpoint; %s is the region.
const DefaultTokenURL = "https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken"

const defaultTimeout = 5 * time.Second

// maxTokenBytes bounds the upstream body. STS tokens are well under 2KB.
const maxTokenBytes = 16 << 10

// ErrMissingConfig is returned when the speech key or region is not set.
var ErrMissingConfig = errors.New("missing Azure Speech key or region")

var errTokenTooLarge = errors.New("token body exceeds limit")

// UpstreamTokenError means the provider did not hand out a token.
// StatusCode is zero when the request never got a response.
type UpstreamTokenError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech token request failed: %v", e.Err)
	}
	return fmt.Sprintf("speech token request failed: status %d", e.StatusCode)
}

func (e *UpstreamTokenError) Unwrap() error { return e.Err }

// Config is the speech subscription used for one token request.
type Config struct {
	Key    string
	Region string
}

// ConfigSource is consulted on every Issue call.
type ConfigSource func() Config

// RelayInfo is handed to the browser for the avatar peer connection.
type RelayInfo struct {
	URLs     []string `json:"Urls"`
	Username string   `json:"Username"`
	Password string   `json:"Password"`
}

// PlaceholderRelay returns a public STUN server with no credentials. It is not
// derived from the provider and carries no TURN credentials.
func PlaceholderRelay() RelayInfo {
	return RelayInfo{
		URLs:     []string{"stun:stun.l.google.com:19302"},
		Username: "",
		Password: "",
	}
}

// TokenResponse is the /avatar/token success body.
type TokenResponse struct {
	Token  string    `json:"token"`
	Region string    `json:"region"`
	Relay  RelayInfo `json:"relay"`
}

// Issuer exchanges the speech subscription key for a short-lived token.
type Issuer struct {
	source   ConfigSource
	client   *http.Client
	tokenURL string
}

type Option func(*Issuer)

// WithHTTPClient replaces the outbound client, including its timeout. A nil
// client is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Issuer) {
		if c != nil {
			i.client = c
		}
	}
}

// WithTimeout sets the upstream timeout on a copy of the current client, so a
// client passed to WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(i *Issuer) {
		if d <= 0 {
			return
		}
		c := *i.client
		c.Timeout = d
		i.client = &c
	}
}

// WithURLTemplate overrides the token endpoint. The template takes the region.
func WithURLTemplate(tpl string) Option {
	return func(i *Issuer) { i.tokenURL = tpl }
}

// NewIssuer creates an Issuer. Options apply in order.
func NewIssuer(source ConfigSource, opts ...Option) *Issuer {
	i := &Issuer{
		source:   source,
		client:   &http.Client{Timeout: defaultTimeout},
		tokenURL: DefaultTokenURL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue performs a single token exchange. Nothing is cached between calls.
func (i *Issuer) Issue(ctx context.Context) (*TokenResponse, error) {
	cfg := i.source()
	if cfg.Key == "" || cfg.Region == "" {
		metrics.SpeechTokenRequests.WithLabelValues("missing_config").Inc()
		return nil, ErrMissingConfig
	}

	token, err := i.fetch(ctx, cfg)
	if err != nil {
		metrics.SpeechTokenRequests.WithLabelValues("upstream_error").Inc()
		return nil, err
	}

	metrics.SpeechTokenRequests.WithLabelValues("ok").Inc()
	return &TokenResponse{
		Token:  token,
		Region: cfg.Region,
		Relay:  PlaceholderRelay(),
	}, nil
}

func (i *Issuer) fetch(ctx context.Context, cfg Config) (string, error) {
	url := fmt.Sprintf(i.tokenURL, cfg.Region)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return "", &UpstreamTokenError{Err: err}
	}
	req.ContentLength = 0
	req.Header.Set("Ocp-Apim-Subscription-Key", cfg.Key)

	start := time.Now()
	resp, err := i.client.Do(req)
	metrics.SpeechTokenUpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("speech token request failed", "region", cfg.Region, "error", err)
		return "", &UpstreamTokenError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("speech token rejected", "region", cfg.Region, "status", resp.StatusCode)
		return "", &UpstreamTokenError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes+1))
	if err != nil {
		return "", &UpstreamTokenError{StatusCode: resp.StatusCode, Err: err}
	}
	if len(body) > maxTokenBytes {
		slog.Warn("speech token too large", "region", cfg.Region, "limit", maxTokenBytes)
		return "", &UpstreamTokenError{StatusCode: resp.StatusCode, Err: errTokenTooLarge}
	}
	return string(body), nil
}
