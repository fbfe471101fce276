package tool

import "fmt"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NodeOutput is the normalized result of one tool invocation. Written exactly
// once per executed node and immutable afterwards; downstream nodes read it
// without locking.
type NodeOutput struct {
	Status   string         `json:"status"`
	Data     map[string]any `json:"data,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// OK reports whether the node succeeded.
func (o *NodeOutput) OK() bool { return o != nil && o.Status == StatusSuccess }

// Primary returns the node's primary data value, or the whole data tree when
// no primary slot is set.
func (o *NodeOutput) Primary() any {
	if o == nil || o.Data == nil {
		return nil
	}
	if v, ok := o.Data["primary"]; ok {
		return v
	}
	return o.Data
}

// ErrorOutput builds an error-status output for a failed invocation.
func ErrorOutput(toolName string, err error) *NodeOutput {
	return &NodeOutput{
		Status:   StatusError,
		Error:    err.Error(),
		Metadata: map[string]any{"tool_name": toolName},
	}
}

// Normalize converts an arbitrary tool result into the canonical NodeOutput
// shape. Tools may return any value tree; maps with recognizable fields keep
// them, everything else lands under data.primary.
func Normalize(toolName string, params map[string]any, raw any) *NodeOutput {
	out := &NodeOutput{
		Status:   StatusSuccess,
		Metadata: map[string]any{"tool_name": toolName, "parameters": params},
	}

	m, ok := raw.(map[string]any)
	if !ok {
		out.Data = map[string]any{"primary": raw}
		out.Message = fmt.Sprintf("tool %s executed", toolName)
		return out
	}

	if s, ok := m["status"].(string); ok && s != "" {
		out.Status = s
	} else if _, hasErr := m["error"]; hasErr {
		out.Status = StatusError
	}
	if e, ok := m["error"].(string); ok {
		out.Error = e
	}
	if msg, ok := m["message"].(string); ok {
		out.Message = msg
	}

	data, _ := m["data"].(map[string]any)
	if data == nil {
		data = make(map[string]any)
	}
	if _, ok := data["primary"]; !ok {
		if v, ok := m["result"]; ok {
			data["primary"] = v
		}
	}
	// Carry non-envelope fields into the data tree so placeholder paths keep
	// working against whatever shape the tool chose.
	for k, v := range m {
		switch k {
		case "status", "error", "message", "data", "metadata":
		default:
			if _, exists := data[k]; !exists {
				data[k] = v
			}
		}
	}
	out.Data = data

	if meta, ok := m["metadata"].(map[string]any); ok {
		for k, v := range meta {
			out.Metadata[k] = v
		}
	}
	return out
}
