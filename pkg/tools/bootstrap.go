package tools

// RegisterCoreTools registers the built-in tool set (everything except
// the task and memory tools, which need extra collaborators wired in by
// the caller) onto registry.
func RegisterCoreTools(registry *ToolRegistry, workspace string, webSearchAPIKey string, webSearchMaxResults int) {
	registry.Register(&ReadFileTool{})
	registry.Register(&WriteFileTool{})
	registry.Register(&ListDirTool{})
	registry.Register(NewExecTool(workspace))
	registry.Register(NewEditFileTool(workspace))
	registry.Register(NewWebFetchTool(200000))
	registry.Register(NewWebSearchTool(webSearchAPIKey, webSearchMaxResults))
	registry.Register(&TodoReadTool{})
	registry.Register(&TodoWriteTool{})
	registry.Register(&GetCurrentDirectoryTool{})
}
