package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EditFileTool performs literal text replacement inside a file,
// confined to an allowed directory. Path containment is checked via
// filepath.Rel rather than a raw string prefix, so a sibling directory
// that merely shares a name prefix with the allowed directory (e.g.
// "workspace" vs "workspace-escape") is correctly rejected.
type EditFileTool struct {
	allowedDir string
}

func NewEditFileTool(allowedDir string) *EditFileTool {
	return &EditFileTool{allowedDir: allowedDir}
}

func (t *EditFileTool) Name() string { return "replace_in_file" }
func (t *EditFileTool) Description() string {
	return "Replace the first exact match of old_text in a file with new_text."
}
func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{"type": "string"},
			"old_text":  map[string]interface{}{"type": "string"},
			"new_text":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"file_path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) checkWithinAllowedDir(path string) error {
	if t.allowedDir == "" {
		return nil
	}
	absAllowed, err := filepath.Abs(t.allowedDir)
	if err != nil {
		return fmt.Errorf("resolve allowed directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(absAllowed, absPath)
	if err != nil {
		return fmt.Errorf("path %s is outside allowed directory %s", path, t.allowedDir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside allowed directory %s", path, t.allowedDir)
	}
	return nil
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["file_path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)

	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("file_path is required")
	}
	if oldText == "" {
		return "", fmt.Errorf("old_text is required")
	}

	if err := t.checkWithinAllowedDir(path); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	matches := strings.Count(content, oldText)
	if matches == 0 {
		// Distinguish a whitespace near-miss from text that isn't there
		// at all, so the model knows whether to re-read or rethink.
		trimmedOld := strings.TrimSpace(oldText)
		if trimmedOld != "" && strings.Count(content, trimmedOld) >= 1 {
			return "", fmt.Errorf("old_text not found verbatim, but a whitespace-trimmed match exists in %s; adjust leading/trailing whitespace to match exactly", path)
		}
		return "", fmt.Errorf("old_text not found in %s", path)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	if matches > 1 {
		return fmt.Sprintf("Replaced 1 occurrence in %s (%d more matches left untouched)", path, matches-1), nil
	}
	return fmt.Sprintf("Replaced 1 occurrence in %s", path), nil
}
