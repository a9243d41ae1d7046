// Package mcp exposes the customizer dry run as an MCP tool.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/dryrun"
)

// ToolName is the name clients call.
const ToolName = "test_jwt_customizer"

const toolDescription = "Run a JWT customizer script against a sample token without deploying it. " +
	"The script must define getCustomJwtClaims(payload) and return a plain object of extra claims. " +
	"Access-token scripts also receive payload.context with the user's profile, roles and organizations."

// Result is the structured tool output.
type Result struct {
	Claims map[string]any `json:"claims" jsonschema:"claims the script would add to the token"`
}

// Server is an MCP server with the dry-run tool registered.
type Server struct {
	server *mcpsdk.Server
	runner *dryrun.Runner
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(s *Server) {
		s.logger = slog.New(h)
	}
}

// New registers the tool on a fresh MCP server reporting version.
func New(runner *dryrun.Runner, version string, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("mcp server requires a dry-run runner")
	}
	s := &Server{runner: runner, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithGroup("mcp")

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "customjwt", Version: version}, nil)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolName,
		Description: toolDescription,
	}, s.callTool)
	return s, nil
}

func (s *Server) callTool(ctx context.Context, _ *mcpsdk.CallToolRequest, req dryrun.Request) (*mcpsdk.CallToolResult, Result, error) {
	claims, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Debug("Tool call failed", "tokenType", req.TokenType, "kind", sandbox.KindName(err))
		return nil, Result{}, toolError(err)
	}
	return nil, Result{Claims: claims}, nil
}

// toolError renders the same message and detail lines the HTTP API returns.
func toolError(err error) error {
	body := sandbox.NewErrorBody(err)
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", body.Message, sandbox.KindName(err))
	for _, line := range body.Errors {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return errors.New(b.String())
}

// Handler serves the MCP server over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.server
	}, nil)
}

// Connect serves one session over t until the client disconnects.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
