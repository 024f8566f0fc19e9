package tools

// The registry smuggles a dispatch's origin (which channel and chat
// asked for it) into the argument map under reserved "__context_" keys,
// so tools that must address a reply — the task tool recording where a
// subagent's reports should land — learn it without a side channel or a
// per-iteration setter. Tools that don't care never see the keys as
// meaningful, and the MCP adapter strips everything under the prefix
// before arguments leave the process.

const (
	execContextPrefix     = "__context_"
	execContextChannelKey = execContextPrefix + "channel"
	execContextChatIDKey  = execContextPrefix + "chat_id"
)

// execContext is the origin attached to one dispatch.
type execContext struct {
	Channel string
	ChatID  string
}

// apply returns a copy of args carrying ec under the reserved keys. The
// input map is never mutated; with nothing to attach it is returned
// as-is.
func (ec execContext) apply(args map[string]interface{}) map[string]interface{} {
	if ec.Channel == "" && ec.ChatID == "" {
		return args
	}

	out := make(map[string]interface{}, len(args)+2)
	for k, v := range args {
		out[k] = v
	}
	if ec.Channel != "" {
		out[execContextChannelKey] = ec.Channel
	}
	if ec.ChatID != "" {
		out[execContextChatIDKey] = ec.ChatID
	}
	return out
}

// execContextFromArgs recovers the origin a dispatch was tagged with,
// zero-valued for calls that arrived without one.
func execContextFromArgs(args map[string]interface{}) execContext {
	channel, _ := args[execContextChannelKey].(string)
	chatID, _ := args[execContextChatIDKey].(string)
	return execContext{Channel: channel, ChatID: chatID}
}
