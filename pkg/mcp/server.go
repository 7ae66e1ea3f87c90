package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/revonto/pkg/client"
	"github.com/rmax-ai/revonto/pkg/engine"
)

// maxToolRecords bounds the records rendered into one tool result.
const maxToolRecords = 25

// Server adapts revonto-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"revonto",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// revonto://population
	s.mcpServer.AddResource(mcp.NewResource(
		"revonto://population",
		"Annotation Population",
		mcp.WithResourceDescription("Size of the loaded annotation corpus studies are scored against"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadPopulation)

	// revonto://studies
	s.mcpServer.AddResource(mcp.NewResource(
		"revonto://studies",
		"Recent Studies",
		mcp.WithResourceDescription("Summaries of the most recent archived studies"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadStudies)
}

// --- Tools ---

func (s *Server) registerTools() {
	// reverse_lookup
	s.mcpServer.AddTool(mcp.NewTool(
		"reverse_lookup",
		mcp.WithDescription("Find gene products over-represented for a set of GO terms. Returns products ranked by p-value."),
		mcp.WithString("terms", mcp.Required(), mcp.Description("Comma separated GO term ids (e.g. 'GO:0006954,GO:0006955')")),
		mcp.WithString("methods", mcp.Description("Comma separated corrections: bonferroni, holm, fdr_bh")),
		mcp.WithNumber("alpha", mcp.Description("Significance threshold (default 0.05)")),
		mcp.WithBoolean("significant_only", mcp.Description("Only return products below alpha")),
	), s.handleReverseLookup)

	// get_study
	s.mcpServer.AddTool(mcp.NewTool(
		"get_study",
		mcp.WithDescription("Fetch an archived study by id."),
		mcp.WithString("study_id", mcp.Required(), mcp.Description("The id returned by reverse_lookup")),
	), s.handleGetStudy)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"revonto-aware",
		mcp.WithPromptDescription("Provides context about GO reverse lookup (query terms, products, corrections)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadPopulation(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	pop, err := s.apiClient.Population(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch population: %w", err)
	}
	return jsonResource(request.Params.URI, pop)
}

func (s *Server) handleReadStudies(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	studies, err := s.apiClient.ListStudies(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch studies: %w", err)
	}
	return jsonResource(request.Params.URI, studies)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReverseLookup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	terms := splitList(mcp.ParseString(request, "terms", ""))
	if len(terms) == 0 {
		return mcp.NewToolResultError("terms is required"), nil
	}

	req := client.StudyRequest{
		Terms:           terms,
		Methods:         splitList(mcp.ParseString(request, "methods", "")),
		Alpha:           mcp.ParseFloat64(request, "alpha", 0),
		SignificantOnly: mcp.ParseBoolean(request, "significant_only", false),
	}

	result, err := s.apiClient.RunStudy(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(formatStudy(result)), nil
}

func (s *Server) handleGetStudy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "study_id", "")
	if id == "" {
		return mcp.NewToolResultError("study_id is required"), nil
	}
	result, err := s.apiClient.GetStudy(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(formatStudy(result)), nil
}

// formatStudy renders the most significant records as plain text.
func formatStudy(result *client.StudyResult) string {
	method := engine.Uncorrected
	if len(result.Methods) > 0 {
		method = result.Methods[0]
	}
	records := append([]*engine.Record(nil), result.Records...)
	engine.SortByPValue(records, method)

	var b strings.Builder
	fmt.Fprintf(&b, "Study %s: %d products for %d terms (pvalue=%s, alpha=%g)\n",
		result.StudyID, len(records), len(result.Query), result.PValue, result.Alpha)
	if len(records) == 0 {
		b.WriteString("No products are annotated to the query terms.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%-24s %8s %8s %12s %12s\n", "product", "study", "pop", "p", "p_"+method)
	for i, r := range records {
		if i == maxToolRecords {
			fmt.Fprintf(&b, "... %d more\n", len(records)-maxToolRecords)
			break
		}
		corrected, _ := r.PValue(method)
		mark := ""
		if r.Significant(method, result.Alpha) {
			mark = " *"
		}
		fmt.Fprintf(&b, "%-24s %4d/%-3d %4d/%-3d %12.4g %12.4g%s\n",
			r.ProductID, r.StudyCount, r.StudyN, r.PopCount, r.PopN, r.PUncorrected, corrected, mark)
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "revonto-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with revonto, a Gene Ontology reverse lookup service.

Concepts:
- GO term: a node of the Gene Ontology (e.g. 'GO:0006954' inflammatory response).
- Product: a gene or protein annotated to GO terms (e.g. 'UniProtKB:P05231').
- Query set: the GO terms you are interested in.
- Reverse lookup: ranks products by how over-represented the query terms are among their annotations.
- Corrections: bonferroni, holm and fdr_bh adjust p-values for multiple testing.

Use the 'reverse_lookup' tool with a comma separated list of GO term ids.
Products marked with '*' are significant at the study's alpha.
`

	return mcp.NewGetPromptResult(
		"revonto-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
