package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileTool_ExecutePrefixesLines(t *testing.T) {
	tool := &ReadFileTool{}
	content := "first line\nsecond line"

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := ensureWriteFile(path, content); err != nil {
		t.Fatalf("failed to setup test file: %v", err)
	}

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "     1→first line\n     2→second line"
	if result != want {
		t.Fatalf("expected %q, got %q", want, result)
	}
}

func TestReadFileTool_OffsetAndLimit(t *testing.T) {
	tool := &ReadFileTool{}
	path := filepath.Join(t.TempDir(), "lines.txt")
	if err := ensureWriteFile(path, "a\nb\nc\nd\ne"); err != nil {
		t.Fatalf("failed to setup test file: %v", err)
	}

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"offset": float64(2),
		"limit":  float64(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "     2→b\n     3→c"
	if result != want {
		t.Fatalf("expected %q, got %q", want, result)
	}

	// Offset past the end of the file reads as empty, not an error.
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"offset": float64(99),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Fatalf("expected empty result, got %q", result)
	}
}

func TestReadFileTool_ExecuteMissingPath(t *testing.T) {
	tool := &ReadFileTool{}

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error when path is missing")
	}
}

func TestWriteFileTool_ExecuteCreatesDirectories(t *testing.T) {
	tool := &WriteFileTool{}

	file := filepath.Join(t.TempDir(), "nested", "dir", "output.txt")
	content := "generated output"

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"file_path": file,
		"content": content,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Wrote 16 bytes") {
		t.Fatalf("unexpected result: %q", result)
	}

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"file_path": file,
	}); err == nil {
		t.Fatalf("expected error when writing args are incomplete, got nil")
	}

	readTool := &ReadFileTool{}
	raw, err := readTool.Execute(context.Background(), map[string]interface{}{
		"file_path": file,
	})
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	if !strings.Contains(raw, content) {
		t.Fatalf("expected readback to contain %q, got %q", content, raw)
	}
}

func TestWriteFileTool_ExecuteRequiresContent(t *testing.T) {
	tool := &WriteFileTool{}

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"file_path": filepath.Join(t.TempDir(), "out.txt"),
	})
	if err == nil {
		t.Fatal("expected error for missing content")
	}
}

func TestListDirTool_Execute(t *testing.T) {
	root := t.TempDir()
	if _, err := (&WriteFileTool{}).Execute(context.Background(), map[string]interface{}{
		"file_path": filepath.Join(root, "file.txt"),
		"content": "data",
	}); err != nil {
		t.Fatalf("failed to prepare file: %v", err)
	}
	if _, err := (&WriteFileTool{}).Execute(context.Background(), map[string]interface{}{
		"file_path": filepath.Join(root, "nested", "more.txt"),
		"content": "deeper",
	}); err != nil {
		t.Fatalf("failed to prepare nested file: %v", err)
	}

	tool := &ListDirTool{}
	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"directory_path": root,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(got, "📄 file.txt (4 bytes)") {
		t.Fatalf("expected root file listing, got %q", got)
	}
	if !strings.Contains(got, "📁 nested/") {
		t.Fatalf("expected nested directory listing, got %q", got)
	}
}

func TestListDirTool_EmptyDirectory(t *testing.T) {
	tool := &ListDirTool{}
	got, err := tool.Execute(context.Background(), map[string]interface{}{"directory_path": t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "(empty directory)" {
		t.Fatalf("expected empty-directory marker, got %q", got)
	}
}

// ensureWriteFile mirrors os.WriteFile usage to keep test setup concise and explicit.
func ensureWriteFile(path, content string) error {
	if _, err := (&WriteFileTool{}).Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"content": content,
	}); err != nil {
		return err
	}

	return nil
}
