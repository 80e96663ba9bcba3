package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamCall struct {
	Method        string
	Path          string
	Key           string
	ContentLength string
	Chunked       bool
}

// fakeSTS answers token requests with status and body, counting every call.
func fakeSTS(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, *atomic.Pointer[upstreamCall]) {
	t.Helper()
	var n atomic.Int32
	var last atomic.Pointer[upstreamCall]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		last.Store(&upstreamCall{
			Method:        r.Method,
			Path:          r.URL.Path,
			Key:           r.Header.Get("Ocp-Apim-Subscription-Key"),
			ContentLength: r.Header.Get("Content-Length"),
			Chunked:       len(r.TransferEncoding) > 0,
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &n, &last
}

func static(key, region string) ConfigSource {
	return func() Config { return Config{Key: key, Region: region} }
}

func TestIssue_Success(t *testing.T) {
	srv, count, last := fakeSTS(t, http.StatusOK, "tok-abc")
	issuer := NewIssuer(static("speech-key", "westus2"), WithURLTemplate(srv.URL+"/%s/sts/v1.0/issueToken"))

	resp, err := issuer.Issue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-abc", resp.Token)
	assert.Equal(t, "westus2", resp.Region)
	assert.Equal(t, PlaceholderRelay(), resp.Relay)

	assert.Equal(t, int32(1), count.Load())
	call := last.Load()
	require.NotNil(t, call)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/westus2/sts/v1.0/issueToken", call.Path)
	assert.Equal(t, "speech-key", call.Key)
	assert.Equal(t, "0", call.ContentLength, "empty body is declared explicitly")
	assert.False(t, call.Chunked)
}

func TestIssue_MissingConfig(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		region string
	}{
		{name: "missing key", region: "westus2"},
		{name: "missing region", key: "speech-key"},
		{name: "missing both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, count, _ := fakeSTS(t, http.StatusOK, "tok-abc")
			issuer := NewIssuer(static(tt.key, tt.region), WithURLTemplate(srv.URL+"/%s"))

			resp, err := issuer.Issue(context.Background())
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, ErrMissingConfig)
			assert.Equal(t, int32(0), count.Load())
		})
	}
}

func TestIssue_UpstreamRejects(t *testing.T) {
	srv, count, _ := fakeSTS(t, http.StatusUnauthorized, "denied")
	issuer := NewIssuer(static("bad-key", "westus2"), WithURLTemplate(srv.URL+"/%s"))

	resp, err := issuer.Issue(context.Background())
	assert.Nil(t, resp)

	var upErr *UpstreamTokenError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.StatusCode)
	assert.Equal(t, int32(1), count.Load(), "no retry on failure")
}

func TestIssue_NonOKSuccessStatusIsFailure(t *testing.T) {
	srv, _, _ := fakeSTS(t, http.StatusAccepted, "tok-abc")
	issuer := NewIssuer(static("speech-key", "westus2"), WithURLTemplate(srv.URL+"/%s"))

	_, err := issuer.Issue(context.Background())

	var upErr *UpstreamTokenError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusAccepted, upErr.StatusCode)
}

func TestIssue_OversizedTokenRejected(t *testing.T) {
	srv, _, _ := fakeSTS(t, http.StatusOK, strings.Repeat("x", maxTokenBytes+1))
	issuer := NewIssuer(static("speech-key", "westus2"), WithURLTemplate(srv.URL+"/%s"))

	resp, err := issuer.Issue(context.Background())
	assert.Nil(t, resp)

	var upErr *UpstreamTokenError
	require.True(t, errors.As(err, &upErr))
	assert.ErrorIs(t, err, errTokenTooLarge)
}

func TestIssue_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	issuer := NewIssuer(static("speech-key", "westus2"), WithURLTemplate(url+"/%s"))

	_, err := issuer.Issue(context.Background())

	var upErr *UpstreamTokenError
	require.True(t, errors.As(err, &upErr))
	assert.Zero(t, upErr.StatusCode)
	assert.Error(t, upErr.Unwrap())
}

func TestIssue_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	issuer := NewIssuer(static("speech-key", "westus2"),
		WithURLTemplate(srv.URL+"/%s"),
		WithTimeout(50*time.Millisecond),
	)

	_, err := issuer.Issue(context.Background())

	var upErr *UpstreamTokenError
	require.True(t, errors.As(err, &upErr))
}

func TestIssue_NoCaching(t *testing.T) {
	srv, count, _ := fakeSTS(t, http.StatusOK, "tok-abc")
	issuer := NewIssuer(static("speech-key", "westus2"), WithURLTemplate(srv.URL+"/%s"))

	for i := 0; i < 2; i++ {
		_, err := issuer.Issue(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestIssue_ReadsConfigEveryCall(t *testing.T) {
	srv, _, last := fakeSTS(t, http.StatusOK, "tok-abc")

	regions := []string{"westus2", "eastus"}
	var calls int
	source := func() Config {
		r := regions[calls%len(regions)]
		calls++
		return Config{Key: "speech-key", Region: r}
	}
	issuer := NewIssuer(source, WithURLTemplate(srv.URL+"/%s"))

	first, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/westus2", last.Load().Path)

	second, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/eastus", last.Load().Path)

	assert.Equal(t, "westus2", first.Region)
	assert.Equal(t, "eastus", second.Region)
}

func TestTokenResponse_JSON(t *testing.T) {
	b, err := json.Marshal(TokenResponse{Token: "tok-abc", Region: "westus2", Relay: PlaceholderRelay()})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"token":"tok-abc","region":"westus2","relay":{"Urls":["stun:stun.l.google.com:19302"],"Username":"","Password":""}}`,
		string(b))
}

func TestDefaultTokenURL(t *testing.T) {
	issuer := NewIssuer(static("k", "r"))
	assert.Equal(t, DefaultTokenURL, issuer.tokenURL)
	assert.Equal(t, defaultTimeout, issuer.client.Timeout)
}

func TestWithTimeout_LeavesCallerClientAlone(t *testing.T) {
	shared := &http.Client{}
	issuer := NewIssuer(static("k", "r"), WithHTTPClient(shared), WithTimeout(50*time.Millisecond))

	assert.Zero(t, shared.Timeout)
	assert.Equal(t, 50*time.Millisecond, issuer.client.Timeout)
	assert.NotSame(t, shared, issuer.client)
}

func TestWithHTTPClient_NilIgnored(t *testing.T) {
	issuer := NewIssuer(static("k", "r"), WithHTTPClient(nil))

	require.NotNil(t, issuer.client)
	assert.Equal(t, defaultTimeout, issuer.client.Timeout)
}
