package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/foomo/confluence-markdown/service"
	"github.com/foomo/confluence-markdown/service/vo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const Version = "0.1.0"

type ConvertRequest struct {
	ExportPath string `json:"export_path"` // Export zip or directory, empty converts the imports directory
	Force      bool   `json:"force"`       // Ignore the build state and convert every page
}

type ConvertResponse struct {
	Results []*vo.BuildResult `json:"results"`
}

type RenderPageRequest struct {
	ExportPath string `json:"export_path"`
	PageID     string `json:"page_id"`
}

type RenderPageResponse struct {
	Preview *vo.PagePreview `json:"preview"`
}

type StatusRequest struct{}

type CleanRequest struct{}

type CleanResponse struct {
	Removed int `json:"removed"`
}

// NewServer creates a new MCP server exposing the converter tools
func NewServer(svc service.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"Confluence Markdown MCP",
		Version,
		server.WithToolCapabilities(false),
	)

	convertTool := mcp.NewTool("convert",
		mcp.WithDescription("Convert a Confluence export to Markdown, skipping pages that did not change since the last run"),
		mcp.WithString("export_path",
			mcp.Description("Path of the export zip or directory; relative paths are looked up in the imports directory. Empty converts every export in the imports directory"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Convert every page regardless of the build state"),
		),
	)
	s.AddTool(convertTool, mcp.NewTypedToolHandler(getConvertHandler(svc)))

	renderTool := mcp.NewTool("render_page",
		mcp.WithDescription("Render a single page to Markdown without writing it"),
		mcp.WithString("export_path",
			mcp.Required(),
			mcp.Description("Path of the export zip or directory"),
		),
		mcp.WithString("page_id",
			mcp.Required(),
			mcp.Description("Id of the page to render"),
		),
	)
	s.AddTool(renderTool, mcp.NewTypedToolHandler(getRenderPageHandler(svc)))

	statusTool := mcp.NewTool("status",
		mcp.WithDescription("Show the persisted build state"),
	)
	s.AddTool(statusTool, mcp.NewTypedToolHandler(getStatusHandler(svc)))

	cleanTool := mcp.NewTool("clean",
		mcp.WithDescription("Remove all generated Markdown files and reset the build state"),
	)
	s.AddTool(cleanTool, mcp.NewTypedToolHandler(getCleanHandler(svc)))

	return s
}

func getConvertHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args ConvertRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args ConvertRequest) (*mcp.CallToolResult, error) {
		var (
			results []*vo.BuildResult
			err     error
		)
		if args.ExportPath == "" {
			results, err = svc.ConvertAll(ctx, args.Force)
		} else {
			var result *vo.BuildResult
			result, err = svc.Convert(ctx, args.ExportPath, args.Force)
			if result != nil {
				results = append(results, result)
			}
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to convert: %v", err)), nil
		}
		return jsonResult(ConvertResponse{Results: results})
	}
}

func getRenderPageHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args RenderPageRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args RenderPageRequest) (*mcp.CallToolResult, error) {
		if args.ExportPath == "" {
			return mcp.NewToolResultError("export_path is required"), nil
		}
		if args.PageID == "" {
			return mcp.NewToolResultError("page_id is required"), nil
		}
		preview, err := svc.RenderPage(ctx, args.ExportPath, args.PageID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to render page: %v", err)), nil
		}
		return jsonResult(RenderPageResponse{Preview: preview})
	}
}

func getStatusHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args StatusRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args StatusRequest) (*mcp.CallToolResult, error) {
		status, err := svc.Status(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
		}
		return jsonResult(status)
	}
}

func getCleanHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args CleanRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args CleanRequest) (*mcp.CallToolResult, error) {
		removed, err := svc.Clean(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to clean: %v", err)), nil
		}
		return jsonResult(CleanResponse{Removed: removed})
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseBytes)), nil
}
