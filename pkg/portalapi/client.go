package portalapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "portalapi",
		Name:      "request_duration_seconds",
		Help:      "Duration of portal API requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "portalapi",
		Name:      "requests_total",
		Help:      "Number of portal API requests partitioned by outcome",
	}, []string{"endpoint", "outcome"})
)

// Config defines how the portal client reaches the upstream API.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
	Logger     zerolog.Logger
}

// Client wraps resty with envelope normalisation, tracing and metrics.
type Client struct {
	http   *resty.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// Request describes one upstream call. Name labels spans and metrics and must not carry ids.
type Request struct {
	Name  string
	Path  string
	Query map[string]string
	Body  interface{}
}

// APIError is a response whose envelope reported failure, or a non-2xx status without an envelope.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("portalapi: upstream rejected request (status %d, code %d)", e.Status, e.Code)
	}
	return fmt.Sprintf("portalapi: %s (status %d, code %d)", e.Message, e.Status, e.Code)
}

// NewClient builds a client for the portal API.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("portal api base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gema-inbox"
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "portal_api").Logger()

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetLogger(restyLogger{logger: logger}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Client{
		http:   httpClient,
		tracer: otel.Tracer("github.com/noah-isme/gema-inbox/pkg/portalapi"),
		logger: logger,
	}, nil
}

// Get performs a GET and decodes the envelope payload into T.
func Get[T any](ctx context.Context, c *Client, req Request) (Result[T], error) {
	return call[T](ctx, c, http.MethodGet, req)
}

// Post performs a POST with a JSON body and decodes the envelope payload into T.
func Post[T any](ctx context.Context, c *Client, req Request) (Result[T], error) {
	return call[T](ctx, c, http.MethodPost, req)
}

// Delete performs a DELETE and decodes the envelope payload into T.
func Delete[T any](ctx context.Context, c *Client, req Request) (Result[T], error) {
	return call[T](ctx, c, http.MethodDelete, req)
}

func call[T any](ctx context.Context, c *Client, method string, req Request) (Result[T], error) {
	env, err := c.do(ctx, method, req)
	if err != nil {
		return Result[T]{}, err
	}
	result, err := decodeResult[T](env)
	if err != nil {
		return result, errors.Wrapf(err, "%s %s", method, req.Path)
	}
	return result, nil
}

func (c *Client) do(parent context.Context, method string, req Request) (envelope, error) {
	name := req.Name
	if name == "" {
		name = req.Path
	}

	ctx, span := c.tracer.Start(parent, "portalapi."+name, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("portalapi.endpoint", name),
	))
	defer span.End()

	r := c.http.R().SetContext(ctx)
	if token := TokenFromContext(ctx); token != "" {
		r.SetAuthToken(token)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		r.SetHeader("X-Request-ID", requestID)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}
	if method != http.MethodGet {
		// writes are not idempotent upstream; a timed-out send may already be stored
		r.AddRetryCondition(neverRetry)
	}

	start := time.Now()
	resp, err := r.Execute(method, req.Path)
	upstreamDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamRequests.WithLabelValues(name, "transport_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return envelope{}, errors.Wrapf(err, "%s %s", method, req.Path)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))

	env, parseErr := parseEnvelope(resp.Body())
	if parseErr != nil {
		if resp.IsError() {
			upstreamRequests.WithLabelValues(name, "http_error").Inc()
			apiErr := &APIError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
			span.SetStatus(codes.Error, apiErr.Error())
			return envelope{}, apiErr
		}
		upstreamRequests.WithLabelValues(name, "malformed").Inc()
		span.RecordError(parseErr)
		span.SetStatus(codes.Error, parseErr.Error())
		c.logger.Warn().Err(parseErr).Str("endpoint", name).Msg("portal api returned an unrecognised envelope")
		return envelope{}, errors.Wrapf(parseErr, "%s %s", method, req.Path)
	}

	if resp.IsError() || !env.ok() {
		upstreamRequests.WithLabelValues(name, "rejected").Inc()
		apiErr := &APIError{Status: resp.StatusCode(), Code: env.code(), Message: env.message()}
		span.SetStatus(codes.Error, apiErr.Error())
		return envelope{}, apiErr
	}

	upstreamRequests.WithLabelValues(name, "ok").Inc()
	return env, nil
}

func neverRetry(*resty.Response, error) bool { return false }

// restyLogger routes resty's retry and debug output through zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}
