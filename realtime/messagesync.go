package realtime

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kinds of the items carried by a message sync frame.
const (
	SyncKindMessage      = "message"
	SyncKindThreadUpdate = "thread_update"
	SyncKindIris         = "iris"
)

const directThreadsPrefix = "/direct_v2/threads"

// SyncItem is one operation of a message sync frame. Messages and thread
// updates carry the thread id parsed from Path and the decoded value; iris
// items carry only Meta.
type SyncItem struct {
	Kind     string         `json:"kind"`
	Path     string         `json:"path,omitempty"`
	Op       string         `json:"op,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
	Value    map[string]any `json:"value,omitempty"`
	RawValue string         `json:"raw_value,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Text returns the message text, if any.
func (i SyncItem) Text() string {
	s, _ := i.Value["text"].(string)
	return s
}

// SenderID returns the id of the user that sent a message. Builds disagree on
// the field name, so the known spellings are tried in order.
func (i SyncItem) SenderID() string {
	for _, k := range []string{"from_user_id", "user_id", "sender_id"} {
		switch v := i.Value[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// parseMessageSync splits a decoded sync frame into items. The frame is
// either one element or a list of them; each element may hold a data list of
// {op, path, value} operations where value is JSON encoded as a string.
func parseMessageSync(decoded any) []SyncItem {
	var elements []map[string]any
	switch v := decoded.(type) {
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				elements = append(elements, m)
			}
		}
	case map[string]any:
		elements = append(elements, v)
	}

	var items []SyncItem
	for _, el := range elements {
		data, _ := el["data"].([]any)
		meta := make(map[string]any, len(el))
		for k, v := range el {
			if k != "data" {
				meta[k] = v
			}
		}
		if len(data) == 0 {
			items = append(items, SyncItem{Kind: SyncKindIris, Meta: meta})
			continue
		}
		for _, raw := range data {
			op, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			path, _ := op["path"].(string)
			if path == "" {
				merged := make(map[string]any, len(meta)+len(op))
				for k, v := range meta {
					merged[k] = v
				}
				for k, v := range op {
					merged[k] = v
				}
				items = append(items, SyncItem{Kind: SyncKindIris, Meta: merged})
				continue
			}
			items = append(items, syncOperation(meta, op, path))
		}
	}
	return items
}

func syncOperation(meta, op map[string]any, path string) SyncItem {
	item := SyncItem{
		Kind:     SyncKindThreadUpdate,
		Path:     path,
		ThreadID: threadIDFromPath(path),
		Meta:     meta,
	}
	item.Op, _ = op["op"].(string)
	switch v := op["value"].(type) {
	case string:
		item.RawValue = v
		var m map[string]any
		if json.Unmarshal([]byte(v), &m) == nil {
			item.Value = m
		}
	case map[string]any:
		item.Value = v
	}
	if strings.HasPrefix(path, directThreadsPrefix) && (item.RawValue != "" || item.Value != nil) {
		item.Kind = SyncKindMessage
	}
	return item
}

// threadIDFromPath extracts the numeric thread id from
// /direct_v2/threads/<id>/... or /direct_v2/inbox/threads/<id>/...
func threadIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/direct_v2/threads/")
	if !ok {
		rest, ok = strings.CutPrefix(path, "/direct_v2/inbox/threads/")
	}
	if !ok {
		return ""
	}
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	return rest[:end]
}
