package dispatch

import (
	"fmt"
	"net/url"
	"strings"
)

// Action names a command a device knows how to execute.
type Action string

const (
	ActionAcestream Action = "acestream"
	ActionPlayURL   Action = "playUrl"
)

const (
	maxCIDLen = 128
	maxURLLen = 2048
)

// Command is a user request for a device, before it gets a command id.
type Command struct {
	Action Action
	CID    string
	URL    string
}

// ValidationError reports malformed input. Nothing is sent when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Normalize trims the fields and checks them against the action's requirements.
func (c *Command) Normalize() error {
	c.Action = Action(strings.TrimSpace(string(c.Action)))
	c.CID = strings.TrimSpace(c.CID)
	c.URL = strings.TrimSpace(c.URL)

	switch c.Action {
	case ActionAcestream:
		if c.CID == "" {
			return invalid("cid", "required for acestream")
		}
		if len(c.CID) > maxCIDLen || strings.ContainsAny(c.CID, " \t\r\n") {
			return invalid("cid", "malformed")
		}
	case ActionPlayURL:
		if c.URL == "" {
			return invalid("url", "required for playUrl")
		}
		if len(c.URL) > maxURLLen {
			return invalid("url", "too long")
		}
		u, err := url.ParseRequestURI(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("url", "must be an absolute http(s) url")
		}
	case "":
		return invalid("action", "required")
	default:
		return invalid("action", fmt.Sprintf("unsupported action %q", c.Action))
	}
	return nil
}

// Payload is the push data for the command. Push data values are strings only.
func (c Command) Payload(commandID string) map[string]string {
	data := map[string]string{
		"action":    string(c.Action),
		"commandId": commandID,
	}
	switch c.Action {
	case ActionAcestream:
		data["cid"] = c.CID
	case ActionPlayURL:
		data["url"] = c.URL
	}
	return data
}
