package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
)

// Remote signing endpoints.
const (
	remoteKeyPath  = "/v1/key"
	remoteSignPath = "/v1/sign"

	defaultRemoteTimeout  = 30 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryDelay     = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
	maxRemoteResponseSize = 1 << 20
)

// RemoteSignerParams configure the HTTP signing backend client.
type RemoteSignerParams struct {
	// URL is the backend base URL.
	URL string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RetryAttempts, RetryDelay and RetryMaxDelay bound the retry loop
	// around unavailable-backend failures.
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

func (p RemoteSignerParams) normalized() RemoteSignerParams {
	if p.Timeout <= 0 {
		p.Timeout = defaultRemoteTimeout
	}

	if p.RetryAttempts <= 0 {
		p.RetryAttempts = defaultRetryAttempts
	}

	if p.RetryDelay <= 0 {
		p.RetryDelay = defaultRetryDelay
	}

	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = defaultRetryMaxDelay
	}

	return p
}

// RemoteSigner signs through an HTTP backend that holds the private key.
// The backend being unreachable classifies as signing_unavailable and is
// retried; the backend refusing a request classifies as signing_rejected
// and is not.
type RemoteSigner struct {
	params RemoteSignerParams
	client *http.Client
	clock  clock.Clock
	keyID  string
}

type signRequest struct {
	Payload []byte `json:"payload"`
}

type signResponse struct {
	KeyID     string `json:"key_id"`
	Signature []byte `json:"signature"`
}

type keyResponse struct {
	KeyID string `json:"key_id"`
}

// NewRemoteSigner connects to the backend and learns its key ID.
func NewRemoteSigner(ctx context.Context, params RemoteSignerParams) (*RemoteSigner, error) {
	params = params.normalized()

	signer := &RemoteSigner{
		params: params,
		client: &http.Client{Timeout: params.Timeout},
		clock:  clock.WallClock,
	}

	var key keyResponse

	err := signer.call(ctx, "key", func() error {
		return signer.getJSON(ctx, params.URL+remoteKeyPath, &key)
	})
	if err != nil {
		return nil, err
	}

	if key.KeyID == "" {
		return nil, release.FatalErrorf(release.ClassSigningUnavailable,
			"signing backend %q announced no key", params.URL)
	}

	signer.keyID = key.KeyID

	return signer, nil
}

// KeyID identifies the backend's signing key.
func (s *RemoteSigner) KeyID() string {
	return s.keyID
}

// Sign submits payload to the backend and returns the raw signature.
func (s *RemoteSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	var response signResponse

	err := s.call(ctx, "sign", func() error {
		return s.postJSON(ctx, s.params.URL+remoteSignPath, signRequest{Payload: payload}, &response)
	})
	if err != nil {
		return nil, err
	}

	if response.KeyID != s.keyID {
		return nil, release.FatalErrorf(release.ClassSigningUnavailable,
			"signing backend switched keys: announced %q, signed with %q", s.keyID, response.KeyID)
	}

	if len(response.Signature) != ed25519.SignatureSize {
		return nil, release.FatalErrorf(release.ClassSigningUnavailable,
			"signing backend returned a %d byte signature", len(response.Signature))
	}

	return response.Signature, nil
}

func (s *RemoteSigner) call(ctx context.Context, op string, fn func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return !release.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.WarnKV(ctx, "Signing backend unavailable, retrying",
				"op", op,
				"attempt", attempt,
				"error", err)
		},
		Attempts:    s.params.RetryAttempts,
		Delay:       s.params.RetryDelay,
		MaxDelay:    s.params.RetryMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}

	return err
}

func (s *RemoteSigner) getJSON(ctx context.Context, url string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return release.FatalErrorf(release.ClassSigningUnavailable, "failed to build request: %w", err)
	}

	return s.do(request, out)
}

func (s *RemoteSigner) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return release.FatalErrorf(release.ClassSigningUnavailable, "failed to encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return release.FatalErrorf(release.ClassSigningUnavailable, "failed to build request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	return s.do(request, out)
}

func (s *RemoteSigner) do(request *http.Request, out any) error {
	response, err := s.client.Do(request)
	if err != nil {
		return release.Errorf(release.ClassSigningUnavailable, "signing backend unreachable: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxRemoteResponseSize))
	if err != nil {
		return release.Errorf(release.ClassSigningUnavailable, "failed to read backend response: %w", err)
	}

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode >= 400 && response.StatusCode < 500:
		return release.Errorf(release.ClassSigningRejected,
			"signing backend refused the request: status %d: %s", response.StatusCode, bytes.TrimSpace(body))
	default:
		return release.Errorf(release.ClassSigningUnavailable,
			"signing backend returned status %d", response.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return release.Errorf(release.ClassSigningUnavailable, "failed to decode backend response: %w", err)
	}

	return nil
}
