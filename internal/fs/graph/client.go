package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"sharedash/internal/fs"
	"sharedash/internal/metrics"
)

const (
	// DefaultBaseURL Graph v1.0 地址
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// SimpleUploadLimit 超过此大小改用上传会话
	SimpleUploadLimit = 4 * 1024 * 1024
	// ChunkSize 上传会话分片大小，必须是 320 KiB 的整数倍
	ChunkSize = 10 * 320 * 1024
)

// Options 初始化参数
type Options struct {
	BaseURL      string
	Tokens       fs.TokenProvider
	RetryMax     int // 0 表示不重试
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// invalidator 令牌被远端拒绝时清除缓存
type invalidator interface {
	Invalidate()
}

// Client Graph 网盘 HTTP 客户端
type Client struct {
	opts       *Options
	baseURL    string
	httpClient *http.Client
}

// retryLogger 将 retryablehttp 的日志转给 slog
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { slog.Error("[retry] "+msg, kv...) }
func (retryLogger) Warn(msg string, kv ...interface{})  { slog.Warn("[retry] "+msg, kv...) }
func (retryLogger) Info(msg string, kv ...interface{})  { slog.Debug("[retry] "+msg, kv...) }
func (retryLogger) Debug(msg string, kv ...interface{}) { slog.Debug("[retry] "+msg, kv...) }

// NewClient 创建客户端，5xx/429/网络错误自动重试
func NewClient(opts *Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RetryWaitMin == 0 {
		opts.RetryWaitMin = 1 * time.Second
	}
	if opts.RetryWaitMax == 0 {
		opts.RetryWaitMax = 30 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = retryLogger{}
	// 重试耗尽后仍返回最后一次响应，保留状态码
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		opts:       opts,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: retryClient.StandardClient(),
	}
}

// ListChildren 列出文件夹的直接子节点，itemID 为空表示网盘根目录；自动翻页
func (c *Client) ListChildren(ctx context.Context, driveID, itemID string) ([]DriveItem, error) {
	next := c.driveURL(driveID) + "/root/children"
	if itemID != "" {
		next = c.driveURL(driveID) + "/items/" + url.PathEscape(itemID) + "/children"
	}

	var items []DriveItem
	for next != "" {
		body, err := c.request(ctx, "list", http.MethodGet, next, nil, nil, true)
		if err != nil {
			return nil, err
		}
		var resp ListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &fs.RemoteError{Op: "list", Message: "解析列表响应失败", Err: err}
		}
		items = append(items, resp.Value...)
		next = resp.NextLink
	}
	return items, nil
}

// Download 下载文件内容 (/content 会 302 到预签名地址，由 http.Client 跟随)
func (c *Client) Download(ctx context.Context, driveID, itemID string) ([]byte, error) {
	u := c.driveURL(driveID) + "/items/" + url.PathEscape(itemID) + "/content"
	return c.request(ctx, "download", http.MethodGet, u, nil, nil, true)
}

// Upload 上传到 folderPath/name，已存在则覆盖
// 小文件直接 PUT，大文件走 createUploadSession -> 分片 PUT
func (c *Client) Upload(ctx context.Context, driveID, folderPath, name string, content []byte) (*DriveItem, error) {
	itemPath := escapePath(folderPath, name)
	if len(content) <= SimpleUploadLimit {
		u := c.driveURL(driveID) + "/root:/" + itemPath + ":/content"
		body, err := c.request(ctx, "upload", http.MethodPut, u, content,
			map[string]string{"Content-Type": "application/octet-stream"}, true)
		if err != nil {
			return nil, err
		}
		return decodeItem(body)
	}
	return c.uploadLarge(ctx, driveID, itemPath, content)
}

func (c *Client) uploadLarge(ctx context.Context, driveID, itemPath string, content []byte) (*DriveItem, error) {
	// 1. 创建上传会话
	var reqBody uploadSessionRequest
	reqBody.Item.ConflictBehavior = "replace"
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	u := c.driveURL(driveID) + "/root:/" + itemPath + ":/createUploadSession"
	body, err := c.request(ctx, "upload", http.MethodPost, u, payload,
		map[string]string{"Content-Type": "application/json"}, true)
	if err != nil {
		return nil, err
	}
	var session UploadSession
	if err := json.Unmarshal(body, &session); err != nil || session.UploadURL == "" {
		return nil, &fs.RemoteError{Op: "upload", Message: "无效的上传会话响应", Err: err}
	}

	// 2. 分片上传；uploadUrl 自带授权，不能再带 Authorization 头
	total := len(content)
	for offset := 0; offset < total; offset += ChunkSize {
		end := min(offset+ChunkSize, total)
		headers := map[string]string{
			"Content-Range": fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total),
		}
		body, err = c.request(ctx, "upload", http.MethodPut, session.UploadURL, content[offset:end], headers, false)
		if err != nil {
			return nil, fmt.Errorf("上传分片 %d-%d 失败: %w", offset, end-1, err)
		}
		slog.Debug("分片上传完成", "path", itemPath, "range", headers["Content-Range"])
	}

	// 3. 最后一个分片的响应是完整的 DriveItem
	return decodeItem(body)
}

// request 通用请求封装，返回响应体
func (c *Client) request(ctx context.Context, op, method, u string, payload []byte, headers map[string]string, auth bool) ([]byte, error) {
	start := time.Now()
	body, err := c.doRequest(ctx, op, method, u, payload, headers, auth)
	metrics.ObserveRemote(op, time.Since(start), err)
	return body, err
}

func (c *Client) doRequest(ctx context.Context, op, method, u string, payload []byte, headers map[string]string, auth bool) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if auth {
		token, err := c.opts.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &fs.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fs.RemoteError{Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remoteErr := &fs.RemoteError{Op: op, Status: resp.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			remoteErr.Code = errResp.Error.Code
			remoteErr.Message = errResp.Error.Message
		}
		if auth && resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.opts.Tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return nil, remoteErr
	}
	return body, nil
}

func (c *Client) driveURL(driveID string) string {
	return c.baseURL + "/drives/" + url.PathEscape(driveID)
}

// escapePath 逐段转义，folderPath 为空表示根目录
func escapePath(folderPath, name string) string {
	var segments []string
	for _, s := range strings.Split(folderPath, "/") {
		if s != "" {
			segments = append(segments, url.PathEscape(s))
		}
	}
	segments = append(segments, url.PathEscape(name))
	return strings.Join(segments, "/")
}

func decodeItem(body []byte) (*DriveItem, error) {
	var item DriveItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, &fs.RemoteError{Op: "upload", Message: "解析上传响应失败", Err: err}
	}
	return &item, nil
}
