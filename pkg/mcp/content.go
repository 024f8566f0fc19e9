package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is one piece of a tool-server response, normalized out of the
// duck-typed shapes servers actually return (a content list, a bare
// string, or an arbitrary JSON object). Everything downstream consumes
// the ToText projection; the variants only exist so binary and raw
// payloads degrade into something a model can read instead of being
// dropped.
type Content interface {
	ToText() string
}

// TextContent is a plain text fragment.
type TextContent string

func (t TextContent) ToText() string { return string(t) }

// BinaryContent is an opaque payload (e.g. an image). Its projection is
// a placeholder naming the type and size rather than raw bytes.
type BinaryContent struct {
	MimeType string
	Data     []byte
}

func (b BinaryContent) ToText() string {
	mime := b.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return fmt.Sprintf("[binary content: %s, %d bytes]", mime, len(b.Data))
}

// RawContent is an unrecognized JSON value, projected verbatim.
type RawContent json.RawMessage

func (r RawContent) ToText() string { return string(r) }

// JoinContentText projects a content list to the single text blob the
// dispatcher hands back to the model.
func JoinContentText(contents []Content) string {
	if len(contents) == 0 {
		return ""
	}
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if s := c.ToText(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// normalizeResult converts the three result shapes a tool server may
// produce — {content: [...]}, a bare string, or any other JSON value —
// into a content list.
func normalizeResult(raw json.RawMessage) []Content {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []Content{TextContent(asString)}
	}

	var wrapper struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Content != nil {
		contents := make([]Content, 0, len(wrapper.Content))
		for _, item := range wrapper.Content {
			var block struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				Data     string `json:"data"`
				MimeType string `json:"mimeType"`
			}
			if err := json.Unmarshal(item, &block); err == nil {
				switch {
				case block.Text != "":
					contents = append(contents, TextContent(block.Text))
					continue
				case block.Data != "":
					contents = append(contents, BinaryContent{MimeType: block.MimeType, Data: []byte(block.Data)})
					continue
				}
			}
			contents = append(contents, RawContent(item))
		}
		return contents
	}

	return []Content{RawContent(raw)}
}
