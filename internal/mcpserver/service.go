package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"llmrouter/internal/metrics"
	"llmrouter/internal/providers"
	"llmrouter/internal/session"
	"llmrouter/internal/storage"
)

// JSON-RPC 2.0 error codes.
const (
	CodeInvalidParams int64 = -32602
	CodeInternalError int64 = -32603
)

const (
	ToolChat        = "chat"
	ToolGetMemory   = "get_memory"
	ToolClearMemory = "clear_memory"
	ToolUseProvider = "use_provider"
	ToolUseModel    = "use_model"
)

// Dispatcher is the transport-agnostic side of every tool.
type Dispatcher interface {
	Chat(ctx context.Context, message string) (string, error)
	GetMemory(ctx context.Context, limit int) ([]storage.Exchange, error)
	ClearMemory(ctx context.Context) (int64, error)
	UseProvider(ctx context.Context, id string) (string, string, error)
	UseModel(ctx context.Context, model string) (string, string, error)
}

type Config struct {
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

type Service struct {
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func New(cfg Config) *Service {
	return &Service{
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "mcpserver").Logger(),
	}
}

// NewServer builds an MCP server named name with every tool registered.
func (s *Service) NewServer(name, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, &mcp.ServerOptions{
		Instructions: "Routes chat messages to OpenAI, Anthropic, OpenRouter or a local Ollama service and keeps a log of every exchange.",
	})
	s.Register(server)
	return server
}

func (s *Service) Register(server *mcp.Server) {
	server.AddTool(&mcp.Tool{
		Name:        ToolChat,
		Description: "Send a message to the current provider and model. The exchange is stored in memory.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"message": {Type: "string", Description: "The message to send"},
			},
			Required: []string{"message"},
		},
	}, s.handle(ToolChat, s.chat))

	server.AddTool(&mcp.Tool{
		Name:        ToolGetMemory,
		Description: fmt.Sprintf("Return stored exchanges, newest first. Defaults to %d; pass null for all.", storage.DefaultListLimit),
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"limit": {
					Types:       []string{"integer", "null"},
					Description: "Maximum number of exchanges to return",
				},
			},
		},
	}, s.handle(ToolGetMemory, s.getMemory))

	server.AddTool(&mcp.Tool{
		Name:        ToolClearMemory,
		Description: "Delete every stored exchange.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handle(ToolClearMemory, s.clearMemory))

	ids := providers.IDs()
	enum := make([]any, 0, len(ids))
	for _, id := range ids {
		enum = append(enum, id)
	}
	server.AddTool(&mcp.Tool{
		Name:        ToolUseProvider,
		Description: "Switch the current provider. The choice survives restarts.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"provider": {Type: "string", Enum: enum, Description: "Provider identifier"},
			},
			Required: []string{"provider"},
		},
	}, s.handle(ToolUseProvider, s.useProvider))

	server.AddTool(&mcp.Tool{
		Name:        ToolUseModel,
		Description: "Switch the model of the current provider.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"model": {Type: "string", Description: "Model identifier, e.g. gpt-4o or openai/gpt-4o"},
			},
			Required: []string{"model"},
		},
	}, s.handle(ToolUseModel, s.useModel))
}

type toolFunc func(ctx context.Context, args arguments) (string, error)

func (s *Service) handle(tool string, fn toolFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		started := time.Now()

		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		args, err := parseArguments(raw)
		var text string
		if err == nil {
			text, err = fn(ctx, args)
		}

		outcome := "ok"
		if err != nil {
			outcome = "error"
			if errors.Is(err, session.ErrInvalidArgument) {
				outcome = "invalid"
			}
		}
		if s.metrics != nil {
			s.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
		}
		s.logger.Debug().Str("tool", tool).Str("outcome", outcome).Dur("took", time.Since(started)).Msg("tool call")

		if err != nil {
			return nil, protocolError(err)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

// protocolError keeps the message verbatim. Argument problems are invalid
// params, everything else is an internal error.
func protocolError(err error) error {
	code := CodeInternalError
	if errors.Is(err, session.ErrInvalidArgument) {
		code = CodeInvalidParams
	}
	return &jsonrpc.Error{Code: code, Message: err.Error()}
}

func (s *Service) chat(ctx context.Context, args arguments) (string, error) {
	message, err := args.requiredString("message")
	if err != nil {
		return "", err
	}
	return s.dispatcher.Chat(ctx, message)
}

func (s *Service) getMemory(ctx context.Context, args arguments) (string, error) {
	limit, err := args.limit("limit", storage.DefaultListLimit)
	if err != nil {
		return "", err
	}
	items, err := s.dispatcher.GetMemory(ctx, limit)
	if err != nil {
		return "", err
	}
	if items == nil {
		items = []storage.Exchange{}
	}
	out, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode exchanges: %w", err)
	}
	return string(out), nil
}

func (s *Service) clearMemory(ctx context.Context, _ arguments) (string, error) {
	n, err := s.dispatcher.ClearMemory(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory cleared (%d exchanges removed).", n), nil
}

func (s *Service) useProvider(ctx context.Context, args arguments) (string, error) {
	id, err := args.requiredString("provider")
	if err != nil {
		return "", err
	}
	provider, model, err := s.dispatcher.UseProvider(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Switched to provider %s (model %s).", provider, model), nil
}

func (s *Service) useModel(ctx context.Context, args arguments) (string, error) {
	model, err := args.requiredString("model")
	if err != nil {
		return "", err
	}
	provider, model, err := s.dispatcher.UseModel(ctx, model)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Switched %s to model %s.", provider, model), nil
}
