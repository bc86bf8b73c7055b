package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/docindex/internal/search"
)

// Client calls a running daemon.
type Client struct {
	cfg       Config
	requestID atomic.Uint64
}

// NewClient creates a daemon client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the daemon socket.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.cfg.SocketPath, c.cfg.dialTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning reports whether the daemon accepts connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks that the daemon answers requests.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, nil, &result)
}

// Search runs a query in the daemon.
func (c *Client) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	var resp search.Response
	if err := c.call(ctx, MethodSearch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IndexFile indexes one file in the daemon and returns the pages stored.
func (c *Client) IndexFile(ctx context.Context, params IndexFileParams) (*IndexFileResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	params.FilePath = absPath(params.FilePath)

	var result IndexFileResult
	if err := c.call(ctx, MethodIndexFile, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IndexDirectory queues a directory in the daemon.
func (c *Client) IndexDirectory(ctx context.Context, params IndexDirectoryParams) (*IndexDirectoryResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	params.DirectoryPath = absPath(params.DirectoryPath)

	var result IndexDirectoryResult
	if err := c.call(ctx, MethodIndexDirectory, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Job returns the progress of a directory job.
func (c *Client) Job(ctx context.Context, id string) (*JobResult, error) {
	params := JobParams{JobID: id}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	var result JobResult
	if err := c.call(ctx, MethodJob, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RemoveFile removes a file's pages in the daemon.
func (c *Client) RemoveFile(ctx context.Context, path string) (*RemoveFileResult, error) {
	params := RemoveFileParams{FilePath: path}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	params.FilePath = absPath(params.FilePath)

	var result RemoveFileResult
	if err := c.call(ctx, MethodRemoveFile, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call sends one request on a fresh connection and decodes the result
// into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	// Unblock the read when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID()}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		ID     string          `json:"id"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error.asError(method)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.requestID.Add(1))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
