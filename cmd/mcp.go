package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"repomind/internal/analyzer"
	"repomind/internal/llm"
	"repomind/internal/rag"
	"repomind/internal/session"
	"repomind/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing repository analysis tools",
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpState carries the collaborators shared by the tool handlers. facts
// tracks the repository analyzed most recently in this process.
type mcpState struct {
	analyzer  *analyzer.Analyzer
	assembler *rag.Assembler
	chat      llm.Completer
	model     string

	mu    sync.Mutex
	facts *rag.RepoFacts
}

func runMCP(cmd *cobra.Command, args []string) error {
	a := analyzer.New(cfg, logger)
	defer a.Close()

	state := &mcpState{analyzer: a}

	// Generation is optional. Without a key the ask tool reports the
	// problem; analysis and search still work.
	if chat, model, err := llm.ForModel(cfg.ChatModel, cfg.AnthropicAPIKey, cfg.OllamaURL, cfg.MaxTokens, logger); err == nil {
		state.chat = chat
		state.model = model
	}

	var searcher rag.Searcher
	if st := a.Store(); st != nil {
		searcher = st
	}
	var related rag.ContextProvider
	if cs := a.Contexts(); cs != nil {
		related = cs
	}
	instructions := ""
	if sessions, err := session.NewStore(cfg.DataDir, logger); err == nil {
		if settings, err := sessions.Settings(); err == nil {
			instructions = settings.CustomInstructions
		}
	}
	state.assembler = rag.NewAssembler(searcher, a.Embedder(), related, rag.AssemblerOptions{
		TopK:         cfg.TopK,
		Threshold:    cfg.ScoreThreshold,
		Instructions: instructions,
	}, logger)

	// Facts persisted by a previous analysis let ask and search work
	// before the first analyze_repository call.
	if facts, err := a.StoredFacts(cmd.Context()); err == nil {
		state.facts = facts
	}

	s := mcpserver.NewMCPServer("repomind", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(analyzeRepositoryTool(), makeAnalyzeHandler(state))
	s.AddTool(searchCodeTool(), makeSearchHandler(state))
	s.AddTool(askRepositoryTool(), makeAskHandler(state))

	return mcpserver.ServeStdio(s)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func analyzeRepositoryTool() mcp.Tool {
	return mcp.NewTool("analyze_repository",
		mcp.WithDescription("Analyze a GitHub repository: walk its tree at the pinned branch head, chunk the code, extract import relationships, and index embeddings for semantic search."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(true),
			OpenWorldHint:   mcp.ToBoolPtr(true),
		}),
		mcp.WithString("repo_url",
			mcp.Required(),
			mcp.Description("GitHub repository URL or bare owner/repo pair"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch to analyze (default: the repository's default branch)"),
		),
	)
}

func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Semantically search the analyzed repository. The query is classified and routed to the matching collection: files, components, relationships or patterns."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query about the repository's code"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of results (default from config)"),
		),
	)
}

func askRepositoryTool() mcp.Tool {
	return mcp.NewTool("ask_repository",
		mcp.WithDescription("Ask a question about the analyzed repository and get an answer grounded in retrieved code context."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(true),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(false),
			OpenWorldHint:   mcp.ToBoolPtr(true),
		}),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the repository"),
		),
	)
}

// --- Handler factories ---

func makeAnalyzeHandler(state *mcpState) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repoURL := req.GetString("repo_url", "")
		if repoURL == "" {
			return mcp.NewToolResultError("repo_url is required"), nil
		}

		res, err := state.analyzer.Analyze(ctx, repoURL, analyzer.Options{
			Branch: req.GetString("branch", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		state.mu.Lock()
		state.facts = res.Facts()
		state.mu.Unlock()

		m := res.Manifest
		var sb strings.Builder
		fmt.Fprintf(&sb, "## Analyzed %s\n\n", m.FullName())
		fmt.Fprintf(&sb, "- **Branch:** %s @ %.7s\n", m.Branch, m.CommitSHA)
		fmt.Fprintf(&sb, "- **Files:** %d total, %d analyzed, %d skipped\n",
			m.TotalFiles, res.Stats.FilesFetched, res.Stats.FilesSkipped)
		fmt.Fprintf(&sb, "- **Chunks:** %d\n", res.Stats.Chunks)
		fmt.Fprintf(&sb, "- **Import edges:** %d\n", res.Stats.Edges)
		if res.EmbeddingsGenerated {
			fmt.Fprintf(&sb, "- **Indexed points:** %d\n", res.Stats.Points)
		} else {
			sb.WriteString("- **Indexing skipped:** vector store or embedder unavailable\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeSearchHandler(state *mcpState) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		results, err := state.analyzer.Search(ctx, query, req.GetInt("k", 0))
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return mcp.NewToolResultError("no index available; call analyze_repository first"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(query, results)), nil
	}
}

func makeAskHandler(state *mcpState) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question := req.GetString("question", "")
		if question == "" {
			return mcp.NewToolResultError("question is required"), nil
		}
		if state.chat == nil {
			return mcp.NewToolResultError("no generation model available; set ANTHROPIC_API_KEY or configure an ollama:<name> model"), nil
		}

		state.mu.Lock()
		facts := state.facts
		state.mu.Unlock()
		if facts == nil {
			return mcp.NewToolResultError("no repository analyzed; call analyze_repository first"), nil
		}

		system, msgs, err := state.assembler.BuildContext(ctx, question, facts, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("context assembly failed: %v", err)), nil
		}
		answer, err := state.chat.Complete(ctx, system, msgs)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcp.NewToolResultText(answer), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(query string, results []store.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d)\n\n", query, len(results))

	for i, r := range results {
		title := r.Payload.FilePath
		if title == "" {
			title = r.Payload.Name
		}
		fmt.Fprintf(&sb, "### Result %d: `%s` (score %.3f)\n\n", i+1, title, r.Score)
		fmt.Fprintf(&sb, "**Type:** %s", r.Payload.ChunkType)
		if r.Payload.Name != "" && r.Payload.FilePath != "" {
			fmt.Fprintf(&sb, "  \n**Name:** %s", r.Payload.Name)
		}
		if r.Payload.StartLine > 0 {
			fmt.Fprintf(&sb, "  \n**Lines:** %d-%d", r.Payload.StartLine, r.Payload.EndLine)
		}
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", strings.ToLower(r.Payload.Language), r.Payload.Content)
	}

	return sb.String()
}
