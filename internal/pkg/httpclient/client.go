// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"quickstock/internal/pkg/logger"
)

// ErrCircuitOpen 表示熔断器处于打开（或半开已满）状态，请求被直接拒绝。
var ErrCircuitOpen = errors.New("circuit breaker open")

var downstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "downstream_calls_total",
	Help: "Outbound HTTP calls by target service and outcome.",
}, []string{"service", "outcome"})

// StatusError 是下游返回非 2xx 时的错误，Code/Message 取自 JSON 错误体。
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Resolver 把服务名解析为 base URL（静态配置或 nacos 服务发现）。
type Resolver interface {
	ResolveBaseURL(serviceName string) (string, error)
}

// StaticResolver 使用固定映射解析服务地址。
type StaticResolver map[string]string

func (r StaticResolver) ResolveBaseURL(serviceName string) (string, error) {
	if u, ok := r[serviceName]; ok {
		return strings.TrimRight(u, "/"), nil
	}
	return "", fmt.Errorf("no address configured for service %s", serviceName)
}

// ChainResolver 依次尝试每个 Resolver，返回第一个成功的结果（例如先 nacos 再静态配置）。
type ChainResolver []Resolver

func (c ChainResolver) ResolveBaseURL(serviceName string) (string, error) {
	var errs []error
	for _, r := range c {
		u, err := r.ResolveBaseURL(serviceName)
		if err == nil {
			return u, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("no resolver for service %s", serviceName)
	}
	return "", stderrors.Join(errs...)
}

// Client 是一个可追踪的 JSON HTTP 客户端，内置单次调用超时、有界指数退避重试和熔断。
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client

	service        string
	resolver       Resolver
	callTimeout    time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
	breaker        *gobreaker.CircuitBreaker
}

type Option func(*Client)

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithRetry 设置瞬时错误的最大重试次数（不含首次调用）和退避区间。
func WithRetry(maxRetries uint64, initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initial
		c.maxBackoff = maxInterval
	}
}

// WithBreaker 在连续 failures 次瞬时失败后打开熔断器，openFor 后进入半开状态。
func WithBreaker(failures uint32, openFor time.Duration, halfOpenRequests uint32) Option {
	return func(c *Client) {
		c.breaker = newBreaker(c.service, failures, openFor, halfOpenRequests)
	}
}

// NewClient 为某个下游服务创建客户端实例。
func NewClient(tracer trace.Tracer, service string, resolver Resolver, opts ...Option) *Client {
	c := &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			// 不设置 Timeout，超时完全由每次请求的 context 控制
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		service:        service,
		resolver:       resolver,
		callTimeout:    2 * time.Second,
		maxRetries:     2,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	c.breaker = newBreaker(service, 5, 30*time.Second, 1)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(service string, failures uint32, openFor time.Duration, halfOpen uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: halfOpen,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 业务拒绝（4xx）不计入熔断统计
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Ctx(context.Background()).Warn().
				Str("service", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// IsTransient 判断错误是否为可重试的瞬时错误：网络错误、超时、5xx、408、429 以及熔断打开。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusTooManyRequests
	}
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// DoJSON 发送 JSON 请求并把 2xx 响应解码到 out（out 可为 nil）。
// 瞬时错误按退避策略重试；业务错误以 *StatusError 直接返回，不重试。
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, span := c.Tracer.Start(ctx, fmt.Sprintf("call-%s", c.service), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("peer.service", c.service),
	)

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.once(ctx, method, path, body, out)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(errors.Wrapf(ErrCircuitOpen, "%s: %v", c.service, err))
		}
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			span.AddEvent("transient failure", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("error", err.Error()),
			))
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))

	span.SetAttributes(attribute.Int("http.attempts", attempt))
	switch {
	case err == nil:
		downstreamCalls.WithLabelValues(c.service, "ok").Inc()
	case IsTransient(err):
		downstreamCalls.WithLabelValues(c.service, "unavailable").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		downstreamCalls.WithLabelValues(c.service, "rejected").Inc()
		span.RecordError(err)
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	baseURL, err := c.resolver.ResolveBaseURL(c.service)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			se.Code, se.Message = payload.Code, payload.Message
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// BreakerState 返回熔断器当前状态，供健康检查和测试使用。
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
