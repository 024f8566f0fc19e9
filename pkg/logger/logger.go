// Package logger provides component-tagged, leveled, structured logging
// used throughout agentkit. Every call site names a component ("tool",
// "provider", "subagent", ...) and attaches a field map, so log lines stay
// greppable without a dedicated observability stack.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	mu       sync.Mutex
	minLevel = LevelInfo
	std      = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLevel changes the minimum level that gets written out. Safe to call
// concurrently with logging calls.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

func logf(level Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}
	line := fmt.Sprintf("[%s] [%s] %s", level, component, msg)
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			line += " " + string(b)
		}
	}
	std.Println(line)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	logf(LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logf(LevelInfo, component, msg, fields)
}

// InfoC logs at info level with no field map, for call sites that only
// need a component tag.
func InfoC(component, msg string) {
	logf(LevelInfo, component, msg, nil)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logf(LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logf(LevelError, component, msg, fields)
}
