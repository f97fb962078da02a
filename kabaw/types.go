package kabaw

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	frameSystem        = "system"
	frameUserConnected = "user_connected"
	frameMessage       = "message"
)

// Close codes, as defined by RFC 6455.
const (
	CloseNormalClosure   = 1000
	CloseAbnormalClosure = 1006
)

// timestamp layouts accepted for inbound chat frames, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// inboundFrame is the envelope server -> client.
// Fields are decoded leniently: the server is not strict about their types.
type inboundFrame struct {
	Type      scalar          `json:"type"`
	Username  scalar          `json:"username,omitempty"`
	UserID    scalar          `json:"user_id,omitempty"`
	Content   scalar          `json:"content"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// scalar holds any JSON value as text. Strings are unquoted, null is empty
// and everything else keeps its JSON encoding.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalar(str)
	default:
		*s = scalar(data)
	}
	return nil
}

// outboundFrame is the envelope client -> server.
type outboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ConnectionParams identify the chat session. They are fixed for the life
// of a Client and re-sent verbatim on every reconnect.
type ConnectionParams struct {
	Endpoint string
	Username string
	Channel  string
}

// BuildURL embeds username and channel as query parameters of the endpoint.
// Query parameters already present on the endpoint are kept.
func BuildURL(p ConnectionParams) (string, error) {
	if p.Endpoint == "" {
		return "", errors.New("empty URL")
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}

	query := "username=" + encodeComponent(p.Username) + "&channel=" + encodeComponent(p.Channel)
	if u.RawQuery != "" {
		u.RawQuery += "&" + query
	} else {
		u.RawQuery = query
	}
	return u.String(), nil
}

// encodeComponent percent-encodes s with spaces as %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// DecodeMessage decodes one inbound frame. Frames that are not JSON objects
// are rejected. receivedAt stands in for a missing or unparsable timestamp.
func DecodeMessage(data []byte, receivedAt time.Time) (ChatMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ChatMessage{}, errors.New("frame is not a JSON object")
	}

	var in inboundFrame
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return ChatMessage{}, err
	}

	msg := ChatMessage{
		Type:      string(in.Type),
		Username:  string(in.Username),
		UserID:    string(in.UserID),
		Content:   string(in.Content),
		Timestamp: receivedAt,
	}
	switch msg.Type {
	case frameSystem:
		msg.Kind = KindSystem
	case frameUserConnected:
		msg.Kind = KindUserJoined
	default:
		msg.Kind = KindChat
	}
	if ts, ok := parseTimestamp(in.Timestamp); ok {
		msg.Timestamp = ts
	}
	return msg, nil
}

// EncodeMessage encodes an outbound chat frame for content, which is
// expected to be already trimmed.
func EncodeMessage(content string) ([]byte, error) {
	data, err := json.Marshal(outboundFrame{Type: frameMessage, Content: content})
	if err != nil {
		return nil, WrapError(ErrorSerialization, "failed to encode message", err)
	}
	return data, nil
}

// parseTimestamp accepts a date string in one of timestampLayouts or a
// number of milliseconds since the Unix epoch.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return time.Time{}, false
	}
	if raw[0] != '"' {
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
