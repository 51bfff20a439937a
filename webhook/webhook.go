package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/cachegate/resilience"
)

// EventListenerChanged is sent when a watched URL's content changed.
const EventListenerChanged = "listener.changed"

// SignatureHeader carries the HS256 token.
const SignatureHeader = "X-Cachegate-Signature"

// Issuer is the iss claim of every signature.
const Issuer = "cachegate"

var (
	// ErrInvalidTarget is returned for webhook URLs that are not absolute http(s).
	ErrInvalidTarget = errors.New("webhook: invalid target url")

	// ErrDeliveryFailed wraps a delivery that did not get a 2xx response.
	ErrDeliveryFailed = errors.New("webhook: delivery failed")

	// ErrInvalidSignature is returned by Verify.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// Notification is the JSON body of a webhook call.
type Notification struct {
	ID           string    `json:"id"`
	Event        string    `json:"event"`
	ListenerID   string    `json:"listenerId"`
	URL          string    `json:"url"`
	Namespace    string    `json:"namespace"`
	PreviousHash string    `json:"previousHash"`
	CurrentHash  string    `json:"currentHash"`
	Invalidated  int       `json:"invalidated"`
	DetectedAt   time.Time `json:"detectedAt"`
}

// Notifier delivers a notification to target.
type Notifier interface {
	Notify(ctx context.Context, target string, n Notification) error
}

// ValidateTarget checks that target is an absolute http or https URL.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}

// Claims is the signed token payload.
type Claims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// Config configures an HTTPNotifier.
type Config struct {
	// SigningKey signs each request. Empty disables signing.
	SigningKey []byte

	// Timeout bounds one attempt. Default: 10s.
	Timeout time.Duration

	// Retry controls re-delivery of transient failures. Default: 3 attempts.
	Retry resilience.RetryConfig

	Client *http.Client
	Now    func() time.Time
}

// HTTPNotifier posts notifications over HTTP.
type HTTPNotifier struct {
	client  *http.Client
	key     []byte
	timeout time.Duration
	exec    *resilience.Executor
	now     func() time.Time
}

// NewHTTPNotifier creates an HTTP notifier.
func NewHTTPNotifier(cfg Config) *HTTPNotifier {
	n := &HTTPNotifier{
		client:  cfg.Client,
		key:     cfg.SigningKey,
		timeout: cfg.Timeout,
		now:     cfg.Now,
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	if n.timeout <= 0 {
		n.timeout = 10 * time.Second
	}
	if n.now == nil {
		n.now = time.Now
	}
	n.exec = resilience.NewExecutor(
		resilience.WithRetry(resilience.NewRetry(cfg.Retry)),
		resilience.WithTimeout(n.timeout),
	)
	return n
}

// Notify delivers n. Each attempt gets its own timeout; 4xx responses other
// than 408 and 429 are not retried.
func (h *HTTPNotifier) Notify(ctx context.Context, target string, n Notification) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	sig, err := h.sign(n, body)
	if err != nil {
		return err
	}
	return h.exec.Execute(ctx, func(ctx context.Context) error {
		return h.post(ctx, target, body, sig)
	})
}

func (h *HTTPNotifier) post(ctx context.Context, target string, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cachegate-webhook/1")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{Code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return resilience.Permanent(statusErr)
	}
	return statusErr
}

func (h *HTTPNotifier) sign(n Notification, body []byte) (string, error) {
	if len(h.key) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(body)
	now := h.now()
	claims := Claims{
		BodySHA256: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   n.ListenerID,
			ID:        n.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.key)
}

// Verify checks a signature header against body. Receivers can use it with
// the shared key.
func Verify(key []byte, signature string, body []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	sum := sha256.Sum256(body)
	if claims.BodySHA256 != hex.EncodeToString(sum[:]) {
		return nil, fmt.Errorf("%w: body digest mismatch", ErrInvalidSignature)
	}
	return claims, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code       int
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrDeliveryFailed, e.Code)
}

// Is reports whether target is ErrDeliveryFailed.
func (e *StatusError) Is(target error) bool { return target == ErrDeliveryFailed }

// RetryAfter returns the server hint, if any.
func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var (
	_ Notifier                   = (*HTTPNotifier)(nil)
	_ resilience.RetryAfterError = (*StatusError)(nil)
)
