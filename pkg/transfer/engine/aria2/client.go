package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/transloadr/transloader/pkg/errx"
)

const defaultRPCTimeout = 30 * time.Second

// Client is a minimal JSON-RPC 2.0 client for the aria2 control interface.
type Client struct {
	rpcURL     string
	secret     string
	httpClient *http.Client
}

// NewClient creates a client for the given RPC endpoint. secret may be
// empty when the daemon runs without --rpc-secret.
func NewClient(rpcURL, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRPCTimeout}
	}
	return &Client{
		rpcURL:     rpcURL,
		secret:     secret,
		httpClient: httpClient,
	}
}

type rpcRequest struct {
	Version string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one RPC method invocation, prepending the secret token.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	all := params
	if c.secret != "" {
		all = append([]interface{}{"token:" + c.secret}, params...)
	}

	body, err := json.Marshal(rpcRequest{
		Version: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  all,
	})
	if err != nil {
		return nil, aria2Errors.NewWithCause(ErrRPC, err).WithDetail("method", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, aria2Errors.NewWithCause(ErrRPC, err).WithDetail("method", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, aria2Errors.NewWithCause(ErrUnavailable, err).WithDetail("url", c.rpcURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, aria2Errors.NewWithCause(ErrBadResponse, err)
	}

	var out rpcResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, aria2Errors.NewWithCause(ErrBadResponse, err).WithDetail("status", resp.StatusCode)
	}
	if out.Error != nil {
		return nil, aria2Errors.NewWithMessage(ErrRPC, out.Error.Message).
			WithDetail("method", method).
			WithDetail("rpc_code", out.Error.Code)
	}

	return out.Result, nil
}

// AddURI submits a download (plain URL or magnet link) and returns its GID.
func (c *Client) AddURI(ctx context.Context, uris []string, options map[string]string) (string, error) {
	result, err := c.call(ctx, "aria2.addUri", uris, options)
	if err != nil {
		return "", err
	}
	var gid string
	if err := json.Unmarshal(result, &gid); err != nil {
		return "", aria2Errors.NewWithCause(ErrBadResponse, err)
	}
	return gid, nil
}

// DownloadStatus is the subset of aria2.tellStatus this service consumes.
// aria2 encodes all numeric fields as strings.
type DownloadStatus struct {
	GID             string   `json:"gid"`
	Status          string   `json:"status"`
	TotalLength     string   `json:"totalLength"`
	CompletedLength string   `json:"completedLength"`
	DownloadSpeed   string   `json:"downloadSpeed"`
	ErrorMessage    string   `json:"errorMessage"`
	FollowedBy      []string `json:"followedBy"`
}

// TotalBytes returns the decoded total length.
func (s DownloadStatus) TotalBytes() int64 { return parseBytes(s.TotalLength) }

// CompletedBytes returns the decoded completed length.
func (s DownloadStatus) CompletedBytes() int64 { return parseBytes(s.CompletedLength) }

// Speed returns the decoded download speed in bytes/sec.
func (s DownloadStatus) Speed() int64 { return parseBytes(s.DownloadSpeed) }

func parseBytes(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var tellStatusKeys = []string{
	"gid", "status", "totalLength", "completedLength",
	"downloadSpeed", "errorMessage", "followedBy",
}

// TellStatus fetches the current status of a download.
func (c *Client) TellStatus(ctx context.Context, gid string) (DownloadStatus, error) {
	result, err := c.call(ctx, "aria2.tellStatus", gid, tellStatusKeys)
	if err != nil {
		return DownloadStatus{}, err
	}
	var status DownloadStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return DownloadStatus{}, aria2Errors.NewWithCause(ErrBadResponse, err).WithDetail("gid", gid)
	}
	return status, nil
}

// Remove aborts an active download.
func (c *Client) Remove(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.remove", gid)
	return err
}

// RemoveDownloadResult drops a finished download from aria2's memory.
func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.removeDownloadResult", gid)
	return err
}

// GetVersion is used as the liveness probe.
func (c *Client) GetVersion(ctx context.Context) error {
	_, err := c.call(ctx, "aria2.getVersion")
	return err
}

// IsUnavailable reports whether err means the daemon could not be reached,
// as opposed to a daemon-side RPC failure.
func IsUnavailable(err error) bool {
	return errx.IsCode(err, ErrUnavailable)
}
