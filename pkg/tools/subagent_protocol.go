package tools

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/corvid/agentkit/pkg/config"
)

// ControlMessage is one newline-delimited JSON frame exchanged over a
// subagent's TCP loopback control socket.
type ControlMessage struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Event     string                 `json:"event,omitempty"`
	Artifacts []string               `json:"artifacts,omitempty"`
	ToolKey   string                 `json:"tool_key,omitempty"`
	ToolArgs  map[string]interface{} `json:"tool_args,omitempty"`
	Success   bool                   `json:"success,omitempty"`
	Result    string                 `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Summary   string                 `json:"summary,omitempty"`
}

// Control message types. "report" carries a subagent_report call upstream
// (its Event field holds progress/note/warning/error/complete); "result"
// is the terminal emit_result call; the tool_execution_* pair is one
// forwarded dispatcher round trip.
const (
	ctrlTypeReport                = "report"
	ctrlTypeResult                = "result"
	ctrlTypeToolExecutionRequest  = "tool_execution_request"
	ctrlTypeToolExecutionResponse = "tool_execution_response"
)

// ControlConn wraps one end of the subagent control socket with
// newline-delimited JSON framing and a write mutex, since both the
// supervisor's dispatch loop and its tool-response path write
// concurrently.
type ControlConn struct {
	conn net.Conn
	mu   sync.Mutex
	dec  *json.Decoder
}

func NewControlConn(conn net.Conn) *ControlConn {
	return &ControlConn{conn: conn, dec: json.NewDecoder(bufio.NewReader(conn))}
}

// Send writes one frame, terminated by the decoder's natural JSON
// object boundary; bufio/json.Decoder on the reading side doesn't need
// an explicit delimiter, but a trailing newline keeps tcpdump/log
// captures of the wire format readable.
func (c *ControlConn) Send(msg ControlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.conn.Write(data)
	return err
}

// Recv blocks for the next frame.
func (c *ControlConn) Recv() (ControlMessage, error) {
	var msg ControlMessage
	err := c.dec.Decode(&msg)
	return msg, err
}

func (c *ControlConn) Close() error {
	return c.conn.Close()
}

// SendResult transmits the terminal result frame for a worker that
// finished its turn without the model ever calling emit_result.
func SendResult(c *ControlConn, result string) error {
	return c.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: result})
}

// SubagentTaskFile is the on-disk JSON handed to the execute-task
// subcommand. It carries everything the child process needs to run a
// single-turn conversation without access to the parent's in-memory
// state or ~/.mcp/config.json: its model backend, its workspace root,
// and the loopback port to dial back for tool forwarding and progress
// reporting.
type SubagentTaskFile struct {
	TaskID      string               `json:"task_id"`
	Description string               `json:"description"`
	Prompt      string               `json:"prompt"`
	Timestamp   int64                `json:"timestamp"`
	Workspace   string               `json:"workspace"`
	Backend     config.BackendConfig `json:"backend"`
	CommPort    int                  `json:"comm_port"`
	ResultFile  string               `json:"result_file"`
	RemoteTools []RemoteToolSpec     `json:"remote_tools,omitempty"`
}

// RemoteToolSpec is the serialized descriptor of one non-builtin tool
// the parent holds. The worker registers these into its own catalog so
// its model sees the same remote tools the parent's does; invocations
// round-trip through the control socket like any other forwarded call,
// so the worker never needs its own connection to the tool server.
type RemoteToolSpec struct {
	Origin      string                 `json:"origin"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}
