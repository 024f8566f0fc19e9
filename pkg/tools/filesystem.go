package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadFileTool reads a file's content, prefixing every line with its
// 1-based line number (6-wide, right-aligned) so the model can cite exact
// lines back when it proposes an edit.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file's contents, with line numbers." }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{"type": "string", "description": "Path to the file to read"},
			"offset": map[string]interface{}{"type": "integer", "description": "1-based line to start from (default 1)"},
			"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of lines to return"},
		},
		"required": []string{"file_path"},
	}
}

// intArg reads an integer tool argument, tolerating the float64 shape
// JSON decoding produces.
func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["file_path"].(string)
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("file_path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	offset, ok := intArg(args, "offset")
	if !ok || offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return "", nil
	}
	limit, hasLimit := intArg(args, "limit")

	var b strings.Builder
	for i := offset - 1; i < len(lines); i++ {
		if hasLimit && i-(offset-1) >= limit {
			break
		}
		fmt.Fprintf(&b, "%6d→%s\n", i+1, lines[i])
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// WriteFileTool writes a file, creating parent directories as needed.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating it or overwriting it." }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{"type": "string", "description": "Path to write"},
			"content":   map[string]interface{}{"type": "string", "description": "Content to write"},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["file_path"].(string)
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("file_path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create parent directories for %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// ListDirTool lists a directory's immediate entries, marking directories
// with 📁 and files with 📄 plus their size in bytes.
type ListDirTool struct{}

func (t *ListDirTool) Name() string        { return "list_directory" }
func (t *ListDirTool) Description() string { return "List the entries of a directory." }
func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"directory_path": map[string]interface{}{"type": "string", "description": "Directory to list"},
		},
		"required": []string{"directory_path"},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["directory_path"].(string)
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("directory_path is required")
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, fmt.Sprintf("📁 %s/", e.Name()))
			continue
		}
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		lines = append(lines, fmt.Sprintf("📄 %s (%d bytes)", e.Name(), size))
	}

	if len(lines) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(lines, "\n"), nil
}

// GetCurrentDirectoryTool reports the process's working directory, so a
// model operating on relative paths can ground itself without guessing.
type GetCurrentDirectoryTool struct{}

func (t *GetCurrentDirectoryTool) Name() string { return "get_current_directory" }
func (t *GetCurrentDirectoryTool) Description() string {
	return "Get the current working directory."
}
func (t *GetCurrentDirectoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *GetCurrentDirectoryTool) Execute(_ context.Context, _ map[string]interface{}) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current directory: %w", err)
	}
	return dir, nil
}
