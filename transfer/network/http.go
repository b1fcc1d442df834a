package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTPConfig ...
type HTTPConfig struct {
	// BaseURL is the files endpoint, for example https://host/api/files.
	BaseURL string
	// Token is sent as a bearer token when not empty.
	Token string
	// RetryMax is the number of transport level retries per request. Default: 0
	RetryMax int
	// Timeout applies to every request. Default: no timeout
	Timeout time.Duration
}

// HTTPClient talks to a chunked upload REST API:
//
//	POST   {base}/init                 form: filename, contentType, fileSize
//	POST   {base}/{id}/chunk/{n}       multipart field "chunk"
//	GET    {base}/{id}/chunk/{n}
//	DELETE {base}/{id}
//	GET    {base}
//	GET    {base}/{id}
type HTTPClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	token      string
	logger     log.Logger
}

// NewHTTPClient ...
func NewHTTPClient(cfg HTTPConfig, logger log.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	client := retryhttp.NewClient(logger)
	client.RetryMax = cfg.RetryMax
	client.HTTPClient.Timeout = cfg.Timeout
	// Hand the last response back instead of a generic "giving up" error so status and body reach unwrapError.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return newHTTPClient(client, cfg.BaseURL, cfg.Token, logger), nil
}

func newHTTPClient(client *retryablehttp.Client, baseURL, token string, logger log.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		logger:     logger,
	}
}

// Initialize ...
func (c *HTTPClient) Initialize(ctx context.Context, fileName, mimeType string, size uint64) (Descriptor, error) {
	form := url.Values{}
	form.Set("filename", fileName)
	form.Set("contentType", mimeType)
	form.Set("fileSize", strconv.FormatUint(size, 10))

	var descriptor Descriptor
	err := c.do(ctx, http.MethodPost, c.baseURL+"/init", []byte(form.Encode()), "application/x-www-form-urlencoded", func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&descriptor)
	})
	if err != nil {
		return Descriptor{}, &InitError{FileName: fileName, Err: err}
	}
	if descriptor.FileID == "" {
		return Descriptor{}, &InitError{FileName: fileName, Err: fmt.Errorf("response has no file id")}
	}

	return descriptor, nil
}

// PutChunk ...
func (c *HTTPClient) PutChunk(ctx context.Context, id FileID, index uint32, data []byte) (ChunkAck, error) {
	body, contentType, err := chunkForm(data)
	if err != nil {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: err}
	}

	var ack ChunkAck
	err = c.do(ctx, http.MethodPost, c.chunkURL(id, index), body, contentType, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&ack)
	})
	if err != nil {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: err}
	}

	return ack, nil
}

// GetChunk ...
func (c *HTTPClient) GetChunk(ctx context.Context, id FileID, index uint32) ([]byte, error) {
	var data []byte
	err := c.do(ctx, http.MethodGet, c.chunkURL(id, index), nil, "", func(resp *http.Response) error {
		var err error
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: err}
	}

	return data, nil
}

// DeleteTransfer ...
func (c *HTTPClient) DeleteTransfer(ctx context.Context, id FileID) error {
	if err := c.do(ctx, http.MethodDelete, c.fileURL(id), nil, "", nil); err != nil {
		return &DeleteError{FileID: id, Err: err}
	}
	return nil
}

// List ...
func (c *HTTPClient) List(ctx context.Context) ([]TransferInfo, error) {
	var infos []TransferInfo
	err := c.do(ctx, http.MethodGet, c.baseURL, nil, "", func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&infos)
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return infos, nil
}

// Stat ...
func (c *HTTPClient) Stat(ctx context.Context, id FileID) (TransferInfo, error) {
	var info TransferInfo
	err := c.do(ctx, http.MethodGet, c.fileURL(id), nil, "", func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&info)
	})
	if err != nil {
		return TransferInfo{}, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return info, nil
}

func (c *HTTPClient) fileURL(id FileID) string {
	return fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(string(id)))
}

func (c *HTTPClient) chunkURL(id FileID, index uint32) string {
	return fmt.Sprintf("%s/%s/chunk/%d", c.baseURL, url.PathEscape(string(id)), index)
}

func (c *HTTPClient) do(ctx context.Context, method, reqURL string, body []byte, contentType string, decode func(*http.Response) error) error {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, reqURL, rawBody)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	if decode == nil {
		return nil
	}
	return decode(resp)
}

func chunkForm(data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("chunk", "blob")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
