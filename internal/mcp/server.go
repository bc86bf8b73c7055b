package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/search"
	"github.com/Aman-CERP/docindex/pkg/version"
)

const (
	defaultLimit = 10
	maxLimit     = search.MaxLimit
)

// Backend is the index the MCP tools operate on.
type Backend interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	IndexFile(ctx context.Context, path string, opts ingest.FileOptions) (int, error)
	Status(ctx context.Context) ingest.Status
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "search",
		Description: "Search the indexed administrative documents page by page. Queries may be French or English; " +
			"terms are matched across both languages. Results name the file, page and division.",
	},
	{
		Name:        "index_file",
		Description: "Index (or re-index) a single document so its pages become searchable.",
	},
	{
		Name:        "index_status",
		Description: "Report page store statistics and watcher state. Use to check the index is populated before searching.",
	},
}

// Server is the MCP server for docindex.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	logger  *slog.Logger
}

// NewServer creates an MCP server over backend.
func NewServer(backend Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("mcp backend is nil")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "docindex",
			Version: version.Version,
		}, nil),
		backend: backend,
		logger:  slog.Default().With(slog.String("component", "mcp")),
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexFileHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name with JSON-style arguments. search
// returns markdown; the other tools return their output struct.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		resp, err := s.search(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatSearchResults(resp), nil
	case "index_file":
		var in IndexFileInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.indexFile(ctx, in)
	case "index_status":
		return s.indexStatus(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError("invalid arguments: " + err.Error())
	}
	return nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (*search.Response, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	start := time.Now()
	requestID := generateRequestID()
	req := search.Request{
		Query:    query,
		Mode:     in.Mode,
		Division: in.Division,
		Limit:    clampLimit(in.Limit, defaultLimit, maxLimit),
	}

	resp, err := s.backend.Search(ctx, req)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.String("mode", string(resp.Mode)),
		slog.Int("result_count", len(resp.Results)),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

func (s *Server) indexFile(ctx context.Context, in IndexFileInput) (*IndexFileOutput, error) {
	path := strings.TrimSpace(in.FilePath)
	if path == "" {
		return nil, NewInvalidParamsError("file_path parameter is required")
	}

	pages, err := s.backend.IndexFile(ctx, path, ingest.FileOptions{
		Division: in.Division,
		UserID:   in.UserID,
		Language: in.Language,
	})
	if err != nil {
		return nil, MapError(err)
	}

	msg := fmt.Sprintf("Indexed %d pages", pages)
	if pages == 0 {
		msg = "No indexable pages found"
	}
	return &IndexFileOutput{FilePath: path, PagesIndexed: pages, Message: msg}, nil
}

func (s *Server) indexStatus(ctx context.Context) *IndexStatusOutput {
	return &IndexStatusOutput{Version: version.Version, Index: s.backend.Status(ctx)}
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	resp, err := s.search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{
		Query:        resp.Query,
		Mode:         string(resp.Mode),
		TotalResults: resp.TotalResults,
		Results:      resp.Results,
	}
	if out.Results == nil {
		out.Results = []search.Result{}
	}
	return textResult(FormatSearchResults(resp)), out, nil
}

func (s *Server) mcpIndexFileHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexFileInput) (
	*mcp.CallToolResult,
	*IndexFileOutput,
	error,
) {
	out, err := s.indexFile(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out := s.indexStatus(ctx)
	return textResult(FormatIndexStatus(out)), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
