package bridgehttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/grammar"
)

// signalAttempts and signalSpacing are spec.md §4.7: "fires a best-effort
// GET to the configured signal_url ... (5 attempts, 2s spacing...)".
const (
	signalAttempts = 5
	signalSpacing  = 2 * time.Second
)

// allowInvalidSSLCertsEnv is spec.md §6: "OPENPORTAL_ALLOW_INVALID_SSL_CERTS=true
// disables cert validation for the signal-URL call only."
const allowInvalidSSLCertsEnv = "OPENPORTAL_ALLOW_INVALID_SSL_CERTS"

// Signaler fires the bridge's outbound wake-up call to an external portal
// once a submitted job has been accepted onto the board.
type Signaler struct {
	client *http.Client
	logger *zap.Logger
}

// NewSignaler builds a Signaler, reading OPENPORTAL_ALLOW_INVALID_SSL_CERTS
// at construction time the way the rest of the mesh reads its environment
// once at startup rather than per-call.
func NewSignaler(logger *zap.Logger) *Signaler {
	transport := http.DefaultTransport
	if os.Getenv(allowInvalidSSLCertsEnv) == "true" {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	}
	return &Signaler{
		client: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		logger: logger.Named("bridgehttp.signal"),
	}
}

// Signal issues GET signalURL?job_id=<jobID>, retrying up to signalAttempts
// times with signalSpacing between tries. Returns nil on the first 2xx
// response, or the last error seen if every attempt failed.
func (s *Signaler) Signal(ctx context.Context, signalURL, jobID string) error {
	var lastErr error
	for attempt := 1; attempt <= signalAttempts; attempt++ {
		if err := s.attempt(ctx, signalURL, jobID); err != nil {
			lastErr = err
			s.logger.Debug("signal attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			return nil
		}

		if attempt < signalAttempts {
			select {
			case <-time.After(signalSpacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return grammar.Wrap(grammar.KindCall, lastErr, "signal_url unreachable after %d attempts", signalAttempts)
}

func (s *Signaler) attempt(ctx context.Context, signalURL, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signalURL, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("job_id", jobID)
	req.URL.RawQuery = q.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("signal_url returned status %d", resp.StatusCode)
	}
	return nil
}
