package presence

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/validation"
)

// ActionType names a presence action.
type ActionType string

const (
	ActionJoin        ActionType = "join"
	ActionLeave       ActionType = "leave"
	ActionPage        ActionType = "page"
	ActionCursor      ActionType = "cursor"
	ActionCursorClear ActionType = "cursor-clear"
	ActionPing        ActionType = "ping"
)

// Cursor is a caret position inside a document.
type Cursor struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Action is one presence mutation sent by a client.
type Action struct {
	Type   ActionType `json:"type"`
	UserID string     `json:"userId"`
	Name   string     `json:"name,omitempty"`
	Color  string     `json:"color,omitempty"`
	Route  string     `json:"route,omitempty"`
	File   string     `json:"file,omitempty"`
	Cursor *Cursor    `json:"cursor,omitempty"`
}

const maxFieldLen = 256

func field(r gjson.Result, path string) string {
	v := validation.SanitizeInput(strings.TrimSpace(r.Get(path).String()))
	if len(v) > maxFieldLen {
		v = strings.ToValidUTF8(v[:maxFieldLen], "")
	}
	return v
}

// ParseAction decodes a JSON action, reading the type tag first and only
// the fields that type uses.
func ParseAction(data []byte) (Action, error) {
	if !gjson.ValidBytes(data) {
		return Action{}, errors.NewProtocolError(errors.ErrCodeMalformedFrame, "presence action is not valid JSON", nil)
	}
	doc := gjson.ParseBytes(data)

	action := Action{
		Type:   ActionType(doc.Get("type").String()),
		UserID: field(doc, "userId"),
	}
	if action.Type == "" {
		return Action{}, errors.ErrMissingField("type")
	}
	if action.UserID == "" {
		return Action{}, errors.ErrMissingField("userId")
	}

	switch action.Type {
	case ActionJoin:
		action.Name = field(doc, "name")
		action.Color = field(doc, "color")
		action.Route = field(doc, "route")
	case ActionPage:
		action.Route = field(doc, "route")
	case ActionCursor:
		action.File = field(doc, "file")
		if action.File == "" {
			return Action{}, errors.ErrMissingField("file")
		}
		c := doc.Get("cursor")
		if !c.Exists() {
			return Action{}, errors.ErrMissingField("cursor")
		}
		action.Cursor = &Cursor{
			Offset: int(c.Get("offset").Int()),
			Line:   int(c.Get("line").Int()),
			Column: int(c.Get("column").Int()),
		}
	case ActionLeave, ActionCursorClear, ActionPing:
	default:
		return Action{}, errors.NewProtocolError(errors.ErrCodeUnknownFrame, "unknown presence action", nil).
			WithContext("type", string(action.Type))
	}

	return action, nil
}
