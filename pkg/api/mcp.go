package api

import (
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/hifi-resolver/pkg/kit"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
)

// NewMCPServer returns an MCP server exposing the resolver tools.
func NewMCPServer(svc *service.Service, logger *slog.Logger, version string) *server.MCPServer {
	srv := server.NewMCPServer("hifi-resolver", version, server.WithToolCapabilities(false))
	RegisterMCPTools(srv, newEndpoints(svc, logger))
	return srv
}

// RegisterMCPTools registers the resolver MCP tools on the server.
func RegisterMCPTools(srv *server.MCPServer, ep *endpoints) {
	kit.RegisterMCPTool(srv, mcp.NewTool("normalize_name",
		mcp.WithDescription("Normalize a product name to its comparable form (lowercase, model numbers split, marketing noise removed)."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The product name to normalize")),
	), ep.normalize, func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		text, _ := args["text"].(string)
		return &normalizeReq{Text: text}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("compare_brands",
		mcp.WithDescription("Relate two brand strings: same, related (sub-brand of a common parent), different or unknown."),
		mcp.WithString("a", mcp.Required(), mcp.Description("First brand")),
		mcp.WithString("b", mcp.Required(), mcp.Description("Second brand")),
	), ep.compareBrands, func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		a, _ := args["a"].(string)
		b, _ := args["b"].(string)
		return &compareBrandsReq{A: a, B: b}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("match_listing",
		mcp.WithDescription("Match a product listing against the catalog of its category and return auto_merge, pending_review or reject with the best candidate."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Listing title")),
		mcp.WithString("brand", mcp.Description("Listing brand, if known")),
		mcp.WithString("category", mcp.Description("Listing category (iem, headphones, cable, dac, amp, dap, speaker, microphone, accessory)")),
		mcp.WithBoolean("classify", mcp.Description("Run the category classifier before matching")),
	), ep.match, func(req mcp.CallToolRequest) (any, error) {
		l, err := listingArgs(req)
		if err != nil {
			return nil, err
		}
		classify, _ := req.GetArguments()["classify"].(bool)
		return &matchReq{Listing: l, Classify: classify}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("classify_listing",
		mcp.WithDescription("Assign or correct a listing's category from its name and brand using the rule tiers."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Listing title")),
		mcp.WithString("brand", mcp.Description("Listing brand, if known")),
		mcp.WithString("category", mcp.Description("Current category, if any")),
		mcp.WithBoolean("explain", mcp.Description("Also list every tier that matched")),
	), ep.classify, func(req mcp.CallToolRequest) (any, error) {
		l, err := listingArgs(req)
		if err != nil {
			return nil, err
		}
		explain, _ := req.GetArguments()["explain"].(bool)
		return &classifyReq{Listing: l, Explain: explain}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("catalog_stats",
		mcp.WithDescription("Report catalog entry counts per category."),
	), ep.stats, func(mcp.CallToolRequest) (any, error) {
		return nil, nil
	})
}

func listingArgs(req mcp.CallToolRequest) (service.Listing, error) {
	args := req.GetArguments()
	var l service.Listing
	l.Name, _ = args["name"].(string)
	l.Brand, _ = args["brand"].(string)
	l.Category, _ = args["category"].(string)
	if l.Name == "" {
		return l, errors.New("name is required")
	}
	return l, nil
}
