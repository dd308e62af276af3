package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/pkg/media"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "fetch").Logger()
	return &l
}

// RequestOption 请求选项
type RequestOption func(*http.Request)

// WithHeader 设置请求头
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		if value != "" {
			r.Header.Set(key, value)
		}
	}
}

// Client 带重试的HTTP客户端
type Client struct {
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewClient 创建HTTP客户端
func NewClient(timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
	}
}

// HTTPClient 获取底层客户端
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Do 发送请求，网络错误和5xx会重试；非200状态返回错误
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger().Debug().Str("url", req.URL.String()).Int("attempt", attempt).Msg("Retrying request")
			select {
			case <-req.Context().Done():
				return nil, fmt.Errorf("%w: %v", media.ErrNetwork, req.Context().Err())
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				break
			}
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			lastErr = fmt.Errorf("request returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: request returned status %d", media.ErrNotFound, resp.StatusCode)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w: %v", media.ErrNetwork, lastErr)
}

// Get 发送GET请求并读取响应体
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.send(req, opts)
}

// Post 发送POST请求并读取响应体
func (c *Client) Post(ctx context.Context, url string, body io.Reader, opts ...RequestOption) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.send(req, opts)
}

func (c *Client) send(req *http.Request, opts []RequestOption) ([]byte, error) {
	req.Header.Set("User-Agent", DefaultUserAgent)
	for _, opt := range opts {
		opt(req)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", media.ErrNetwork, err)
	}
	return data, nil
}
