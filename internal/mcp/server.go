// Package mcp implements the stdio Model Context Protocol server that
// exposes the index to AI assistants.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/locusmcp/locus/internal/engine"
	"github.com/locusmcp/locus/pkg/version"
)

// Server bridges AI clients with the index engine over JSON-RPC on stdio.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates the MCP server and registers the tool surface.
func NewServer(e *engine.Engine) (*Server, error) {
	if e == nil {
		return nil, fmt.Errorf("engine is required")
	}

	s := &Server{
		engine: e,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Locus",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Serve runs the server on stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", "stdio"),
		slog.String("project", s.engine.ProjectPath()))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// registerTools registers the seven index tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_index",
		Description: "Build the semantic index for this project. Required before searching. Safe to re-run: unchanged files are skipped.",
	}, s.handleCreateIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Semantic code search over the indexed project. Finds code by meaning, not just keywords.",
	}, s.handleSearchCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_by_path",
		Description: "List indexed file paths matching a glob pattern, e.g. src/**/*.ts.",
	}, s.handleSearchByPath)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Report index health: state, statistics, last update time, and whether the file watcher is active.",
	}, s.handleIndexStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex_project",
		Description: "Rebuild the index from scratch, preserving configuration.",
	}, s.handleReindexProject)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex_file",
		Description: "Reindex a single file immediately instead of waiting for the watcher.",
	}, s.handleReindexFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_index",
		Description: "Delete this project's index. Requires confirm: true; anything else cancels.",
	}, s.handleDeleteIndex)

	s.logger.Debug("MCP tools registered", slog.Int("count", 7))
}

func (s *Server) handleCreateIndex(ctx context.Context, req *mcp.CallToolRequest, input CreateIndexInput) (
	*mcp.CallToolResult, CreateIndexOutput, error,
) {
	result, err := s.engine.CreateIndex(ctx, input.Confirm, nil)
	if err != nil {
		return nil, CreateIndexOutput{}, toolError(err)
	}
	return nil, CreateIndexOutput{
		Status:        "created",
		FilesIndexed:  result.FilesIndexed,
		ChunksCreated: result.ChunksCreated,
		Duration:      result.Duration.Round(time.Millisecond).String(),
	}, nil
}

func (s *Server) handleSearchCode(ctx context.Context, req *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult, SearchCodeOutput, error,
) {
	if input.Query == "" {
		return nil, SearchCodeOutput{}, fmt.Errorf("query parameter is required")
	}

	started := time.Now()
	hits, err := s.engine.SearchCode(ctx, input.Query, input.TopK)
	if err != nil {
		return nil, SearchCodeOutput{}, toolError(err)
	}

	out := SearchCodeOutput{
		Results:      make([]SearchCodeResult, len(hits)),
		TotalResults: len(hits),
		SearchTimeMs: time.Since(started).Milliseconds(),
	}
	for i, h := range hits {
		out.Results[i] = SearchCodeResult{
			Path:      h.Path,
			Snippet:   h.Text,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Score:     h.Score,
		}
	}
	return nil, out, nil
}

func (s *Server) handleSearchByPath(ctx context.Context, req *mcp.CallToolRequest, input SearchByPathInput) (
	*mcp.CallToolResult, SearchByPathOutput, error,
) {
	if input.Pattern == "" {
		return nil, SearchByPathOutput{}, fmt.Errorf("pattern parameter is required")
	}

	matches, err := s.engine.SearchByPath(input.Pattern, input.Limit)
	if err != nil {
		return nil, SearchByPathOutput{}, toolError(err)
	}
	return nil, SearchByPathOutput{
		Matches:      matches,
		TotalMatches: len(matches),
	}, nil
}

func (s *Server) handleIndexStatus(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
	*mcp.CallToolResult, IndexStatusOutput, error,
) {
	status := s.engine.Status()

	out := IndexStatusOutput{
		Status: string(status.State),
		Stats: IndexStatusStats{
			TotalFiles:       status.Stats.TotalFiles,
			TotalChunks:      status.Stats.TotalChunks,
			StorageSizeBytes: status.Stats.StorageSizeBytes,
			FailedEmbeddings: status.Stats.FailedEmbeddings,
		},
		WatcherActive: status.WatcherActive,
		Error:         status.ErrorMessage,
	}
	if !status.LastUpdated.IsZero() {
		out.LastUpdated = status.LastUpdated.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleReindexProject(ctx context.Context, req *mcp.CallToolRequest, input CreateIndexInput) (
	*mcp.CallToolResult, CreateIndexOutput, error,
) {
	result, err := s.engine.ReindexProject(ctx, input.Confirm, nil)
	if err != nil {
		return nil, CreateIndexOutput{}, toolError(err)
	}
	return nil, CreateIndexOutput{
		Status:        "created",
		FilesIndexed:  result.FilesIndexed,
		ChunksCreated: result.ChunksCreated,
		Duration:      result.Duration.Round(time.Millisecond).String(),
	}, nil
}

func (s *Server) handleReindexFile(ctx context.Context, req *mcp.CallToolRequest, input ReindexFileInput) (
	*mcp.CallToolResult, ReindexFileOutput, error,
) {
	if input.Path == "" {
		return nil, ReindexFileOutput{}, fmt.Errorf("path parameter is required")
	}

	result, err := s.engine.ReindexFile(ctx, input.Path)
	if err != nil {
		return nil, ReindexFileOutput{}, toolError(err)
	}

	status := "reindexed"
	if !result.Changed {
		status = "unchanged"
	}
	return nil, ReindexFileOutput{
		Status:        status,
		Path:          result.Path,
		ChunksCreated: result.ChunksCreated,
	}, nil
}

func (s *Server) handleDeleteIndex(ctx context.Context, req *mcp.CallToolRequest, input DeleteIndexInput) (
	*mcp.CallToolResult, DeleteIndexOutput, error,
) {
	result, err := s.engine.DeleteIndex(input.Confirm)
	if err != nil {
		return nil, DeleteIndexOutput{}, toolError(err)
	}

	status := "cancelled"
	if result.Deleted {
		status = "deleted"
	}
	return nil, DeleteIndexOutput{
		Status:      status,
		ProjectPath: result.ProjectPath,
		Message:     result.Message,
	}, nil
}
