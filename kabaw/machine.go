package kabaw

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Model is the complete state of a connection manager. It is a value:
// Machine.Transition never mutates its input.
type Model struct {
	State     ConnectionState
	SessionID string // "" until a user_connected frame assigns one
	Attempts  int    // consecutive automatic reconnects since the last open
	Err       error  // latest surfaced error

	// ConnID identifies the transport handle currently held, "" if none.
	ConnID string

	// TimerID identifies the pending reconnect timer, 0 if none.
	TimerID uint64

	// Closed is set once the manager has been disposed.
	Closed bool

	timerSeq uint64
}

// Event is an input of the state machine.
type Event interface{ isEvent() }

// ConnectRequested asks for a new transport, identified by ConnID.
type ConnectRequested struct{ ConnID string }

// TransportOpened reports that the dial for ConnID succeeded.
type TransportOpened struct{ ConnID string }

// FrameReceived carries one inbound text frame.
type FrameReceived struct {
	ConnID     string
	Data       []byte
	ReceivedAt time.Time
}

// TransportFailed reports a transport error. The close that follows drives
// the state change.
type TransportFailed struct {
	ConnID string
	Err    error
}

// TransportClosed reports that the transport for ConnID is gone.
type TransportClosed struct {
	ConnID string
	Code   int
	Reason string
}

// DialFailed reports that the transport for ConnID could not be opened.
type DialFailed struct {
	ConnID string
	Err    error
}

// DisconnectRequested is an explicit, user-initiated disconnect.
type DisconnectRequested struct{}

// ReconnectDue is delivered when the reconnect timer TimerID fires. ConnID
// names the transport that the reconnect would open.
type ReconnectDue struct {
	TimerID uint64
	ConnID  string
}

// Disposed releases everything; the manager is not usable afterwards.
type Disposed struct{}

func (ConnectRequested) isEvent()    {}
func (TransportOpened) isEvent()     {}
func (FrameReceived) isEvent()       {}
func (TransportFailed) isEvent()     {}
func (TransportClosed) isEvent()     {}
func (DialFailed) isEvent()          {}
func (DisconnectRequested) isEvent() {}
func (ReconnectDue) isEvent()        {}
func (Disposed) isEvent()            {}

// Effect is an action the owner of the Model must perform after a transition.
type Effect interface{ isEffect() }

// DialEffect opens a transport to URL, tagged with ConnID.
type DialEffect struct {
	ConnID string
	URL    string
}

// CloseTransportEffect closes the transport tagged with ConnID.
type CloseTransportEffect struct {
	ConnID string
	Code   int
	Reason string
}

// ScheduleReconnectEffect arms a timer that delivers ReconnectDue{TimerID}.
type ScheduleReconnectEffect struct {
	TimerID uint64
	Attempt int
	Delay   time.Duration
}

// CancelReconnectEffect stops the pending timer TimerID.
type CancelReconnectEffect struct{ TimerID uint64 }

// AppendMessageEffect appends Message to the log.
type AppendMessageEffect struct{ Message ChatMessage }

// LogEffect is a diagnostic record for the Logger.
type LogEffect struct {
	Level  LogLevel
	Msg    string
	Fields map[string]any
}

func (DialEffect) isEffect()              {}
func (CloseTransportEffect) isEffect()    {}
func (ScheduleReconnectEffect) isEffect() {}
func (CancelReconnectEffect) isEffect()   {}
func (AppendMessageEffect) isEffect()     {}
func (LogEffect) isEffect()               {}

// Close reasons sent with a normal closure.
const (
	reasonUserDisconnect = "User initiated disconnect"
	reasonClientClosed   = "client closed"
	reasonStale          = "stale connection"
)

// Machine holds the immutable inputs of the transition function.
type Machine struct {
	Params           ConnectionParams
	Policy           ReconnectPolicy
	MaxMessageLength int // in code points, 0 means unlimited
}

// Transition computes the next Model and the effects to run for ev.
func (mc Machine) Transition(m Model, ev Event) (Model, []Effect) {
	if m.Closed {
		return m, nil
	}
	t := &transition{m: m}
	switch ev := ev.(type) {
	case ConnectRequested:
		mc.connect(t, ev.ConnID)
	case ReconnectDue:
		if ev.TimerID == 0 || ev.TimerID != t.m.TimerID {
			t.log(LevelDebug, "ignoring stale reconnect timer", map[string]any{"timer_id": ev.TimerID})
			break
		}
		t.m.TimerID = 0
		t.log(LevelInfo, "reconnecting", map[string]any{"attempt": t.m.Attempts, "max_attempts": mc.Policy.MaxAttempts})
		mc.connect(t, ev.ConnID)
	case TransportOpened:
		if ev.ConnID != t.m.ConnID {
			t.emit(CloseTransportEffect{ConnID: ev.ConnID, Code: CloseNormalClosure, Reason: reasonStale})
			t.log(LevelDebug, "closing stale transport", map[string]any{"conn_id": ev.ConnID})
			break
		}
		if t.m.State != StateConnecting {
			break
		}
		t.m.State = StateConnected
		t.m.Err = nil
		t.m.Attempts = 0
		t.log(LevelInfo, "connected", map[string]any{
			"conn_id":  ev.ConnID,
			"username": mc.Params.Username,
			"channel":  mc.Params.Channel,
		})
	case FrameReceived:
		if ev.ConnID != t.m.ConnID || t.m.State != StateConnected {
			break
		}
		mc.receive(t, ev)
	case TransportFailed:
		if ev.ConnID != t.m.ConnID {
			break
		}
		t.m.Err = WrapError(ErrorConnection, msgConnectionError, ev.Err)
		t.log(LevelError, "transport error", errFields(ev.Err))
	case DialFailed:
		if ev.ConnID != t.m.ConnID {
			break
		}
		t.m.Err = WrapError(ErrorConnection, msgConnectionError, ev.Err)
		t.log(LevelError, "dial failed", errFields(ev.Err))
		mc.closed(t, CloseAbnormalClosure, "")
	case TransportClosed:
		if ev.ConnID != t.m.ConnID {
			break
		}
		mc.closed(t, ev.Code, ev.Reason)
	case DisconnectRequested:
		if t.m.ConnID == "" && t.m.TimerID == 0 && t.m.State == StateDisconnected {
			break
		}
		t.log(LevelInfo, "user initiated disconnect", nil)
		mc.release(t, reasonUserDisconnect)
	case Disposed:
		mc.release(t, reasonClientClosed)
		t.m.Closed = true
	}
	return t.m, t.effects
}

// PrepareSend validates content against m and encodes the outbound frame.
// It returns the handle to write to and the frame bytes.
func (mc Machine) PrepareSend(m Model, content string) (connID string, frame []byte, err error) {
	if m.Closed {
		return "", nil, ErrClosed
	}
	if m.State != StateConnected || m.ConnID == "" {
		return "", nil, ErrNotConnected
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil, ErrEmptyMessage
	}
	if mc.MaxMessageLength > 0 && utf8.RuneCountInString(content) > mc.MaxMessageLength {
		return "", nil, ErrMessageTooLong
	}
	frame, err = EncodeMessage(content)
	if err != nil {
		return "", nil, err
	}
	return m.ConnID, frame, nil
}

func (mc Machine) connect(t *transition, connID string) {
	if t.m.ConnID != "" {
		t.log(LevelDebug, "already connected", map[string]any{"state": t.m.State.String()})
		return
	}
	t.cancelTimer()

	target, err := BuildURL(mc.Params)
	if err != nil {
		t.m.State = StateDisconnected
		t.m.Err = WrapError(ErrorConnectFailed, msgConnectFailed, err)
		t.log(LevelError, "failed to create transport", errFields(err))
		return
	}

	t.m.State = StateConnecting
	t.m.Err = nil
	t.m.ConnID = connID
	t.emit(DialEffect{ConnID: connID, URL: target})
	t.log(LevelInfo, "connecting", map[string]any{"url": target, "conn_id": connID})
}

func (mc Machine) receive(t *transition, ev FrameReceived) {
	msg, err := DecodeMessage(ev.Data, ev.ReceivedAt)
	if err != nil {
		t.log(LevelError, "failed to parse message", map[string]any{"error": err.Error(), "size": len(ev.Data)})
		return
	}
	if msg.Kind == KindUserJoined && msg.UserID != "" {
		t.m.SessionID = msg.UserID
		t.log(LevelInfo, "assigned user id", map[string]any{"user_id": msg.UserID})
	}
	t.emit(AppendMessageEffect{Message: msg})
}

func (mc Machine) closed(t *transition, code int, reason string) {
	t.m.State = StateDisconnected
	t.m.ConnID = ""
	t.m.SessionID = ""
	t.log(LevelInfo, "connection closed", map[string]any{"code": code, "reason": reason})

	if code == CloseNormalClosure || mc.Policy.Disabled {
		return
	}
	if !mc.Policy.CanRetry(t.m.Attempts) {
		t.m.Err = NewError(ErrorMaxReconnect, msgMaxReconnect)
		t.log(LevelWarn, "max reconnection attempts reached", map[string]any{"attempts": t.m.Attempts})
		return
	}

	t.m.Attempts++
	t.m.timerSeq++
	t.m.TimerID = t.m.timerSeq
	delay := mc.Policy.Delay(t.m.Attempts)
	t.emit(ScheduleReconnectEffect{TimerID: t.m.TimerID, Attempt: t.m.Attempts, Delay: delay})
	t.log(LevelInfo, "reconnect scheduled", map[string]any{
		"attempt":      t.m.Attempts,
		"max_attempts": mc.Policy.MaxAttempts,
		"delay":        delay.String(),
	})
}

func (mc Machine) release(t *transition, reason string) {
	t.cancelTimer()
	if t.m.ConnID != "" {
		t.emit(CloseTransportEffect{ConnID: t.m.ConnID, Code: CloseNormalClosure, Reason: reason})
	}
	t.m.State = StateDisconnected
	t.m.ConnID = ""
	t.m.SessionID = ""
}

// transition accumulates the result of one Transition call.
type transition struct {
	m       Model
	effects []Effect
}

func (t *transition) emit(e Effect) {
	t.effects = append(t.effects, e)
}

func (t *transition) log(level LogLevel, msg string, fields map[string]any) {
	t.emit(LogEffect{Level: level, Msg: msg, Fields: fields})
}

func (t *transition) cancelTimer() {
	if t.m.TimerID == 0 {
		return
	}
	t.emit(CancelReconnectEffect{TimerID: t.m.TimerID})
	t.m.TimerID = 0
}

func errFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}
