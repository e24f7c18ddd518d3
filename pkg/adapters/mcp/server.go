// Package mcp exposes the runtime as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/switchboard"
	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Runtime is the part of switchboard.Runtime the tools need.
type Runtime interface {
	Fire(ctx context.Context, req switchboard.FireRequest) (*switchboard.FireResult, error)
	Machines(ctx context.Context) ([]string, error)
	Graph(ctx context.Context, id string) (machine.Graph, error)
	Sessions() []domain.SessionInfo
}

var _ Runtime = (*switchboard.Runtime)(nil)

// Server wraps the runtime in an MCP server.
type Server struct {
	runtime   Runtime
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the MCP server and registers its tools.
func NewServer(rt Runtime, opts ...Option) *Server {
	s := &Server{
		runtime:   rt,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("switchboard-mcp", strings.TrimSpace(switchboard.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the tools over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop MCP server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_machines",
		mcp.WithDescription("List the ids of every machine definition."),
	), s.handleListMachines)

	s.mcpServer.AddTool(mcp.NewTool("fire_transition",
		mcp.WithDescription("Fire a transition on a fresh instance positioned at currentState."),
		mcp.WithString("machineId", mcp.Required(), mcp.Description("Machine definition id")),
		mcp.WithString("transitionName", mcp.Required(), mcp.Description("Transition to fire")),
		mcp.WithString("currentState", mcp.Required(), mcp.Description("State the instance starts in")),
		mcp.WithString("eventPayload", mcp.Description("JSON object passed to the hooks as payload")),
		mcp.WithString("initialData", mcp.Description("JSON object seeding the instance fields")),
	), s.handleFire)

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the states and transitions of a machine."),
		mcp.WithString("machineId", mcp.Required(), mcp.Description("Machine definition id")),
	), s.handleGraph)

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List live call sessions and their current state."),
	), s.handleListSessions)
}

func (s *Server) handleListMachines(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.runtime.Machines(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if ids == nil {
		ids = []string{}
	}
	return jsonResult(map[string]any{"availableFsms": ids})
}

func (s *Server) handleFire(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := switchboard.FireRequest{
		MachineID:    request.GetString("machineId", ""),
		Transition:   request.GetString("transitionName", ""),
		CurrentState: request.GetString("currentState", ""),
	}
	var err error
	if req.Payload, err = objectArg(request, "eventPayload"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.InitialData, err = objectArg(request, "initialData"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.runtime.Fire(ctx, req)
	if err != nil {
		s.logger.Warn("MCP fire_transition failed", "machine_id", req.MachineID, "transition", req.Transition, "err", err)
		var refused *domain.TransitionRefusedError
		if errors.As(err, &refused) {
			return mcp.NewToolResultError(fmt.Sprintf("%v (current state %q, possible transitions: %s)",
				err, req.CurrentState, strings.Join(refused.Available, ", "))), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("machineId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, err := s.runtime.Graph(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph failed: %v", err)), nil
	}
	return jsonResult(g)
}

func (s *Server) handleListSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.runtime.Sessions()
	if sessions == nil {
		sessions = []domain.SessionInfo{}
	}
	return jsonResult(map[string]any{"sessions": sessions})
}

// objectArg decodes a JSON object passed as a string argument. Absent means nil.
func objectArg(request mcp.CallToolRequest, name string) (map[string]any, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object: %w", name, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a JSON object", name)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
