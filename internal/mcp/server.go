package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/theboatscanner/boatscanner/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"payload_classify": {
		def:     classifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClassify },
	},
	"credits_balance": {
		def:     creditsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCredits },
	},
	"history_list": {
		def:     historyListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryList },
	},
	"favorites_list": {
		def:     favoritesListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFavoritesList },
	},
	"reviews_list": {
		def:     reviewsListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReviewsList },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server exposing the scanner's read-side tools.
// Tools listed in the config's DisabledTools are not registered.
func NewServer(d *ops.Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"boatscanner",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)

	disabled := make(map[string]bool, len(d.Config.DisabledTools))
	for _, name := range d.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(d *ops.Deps, version string) error {
	return server.ServeStdio(NewServer(d, version))
}
