package kabaw

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMachine() Machine {
	return Machine{
		Params:           ConnectionParams{Endpoint: DefaultURL, Username: "alice", Channel: "general"},
		Policy:           DefaultReconnectPolicy(),
		MaxMessageLength: DefaultMaxMessageLength,
	}
}

func effectsOf[T Effect](effects []Effect) []T {
	var out []T
	for _, e := range effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// connected drives a fresh model to Connected on handle connID.
func connected(t *testing.T, mc Machine, connID string) Model {
	t.Helper()
	m, effects := mc.Transition(Model{}, ConnectRequested{ConnID: connID})
	require.Len(t, effectsOf[DialEffect](effects), 1)
	m, _ = mc.Transition(m, TransportOpened{ConnID: connID})
	require.Equal(t, StateConnected, m.State)
	return m
}

func TestTransitionConnect(t *testing.T) {
	mc := testMachine()

	m, effects := mc.Transition(Model{}, ConnectRequested{ConnID: "c1"})

	assert.Equal(t, StateConnecting, m.State)
	assert.Equal(t, "c1", m.ConnID)
	dials := effectsOf[DialEffect](effects)
	require.Len(t, dials, 1)
	assert.Equal(t, "c1", dials[0].ConnID)
	assert.Equal(t, "ws://localhost:8080/ws?username=alice&channel=general", dials[0].URL)
}

func TestTransitionConnectTwiceKeepsOneHandle(t *testing.T) {
	mc := testMachine()

	m, _ := mc.Transition(Model{}, ConnectRequested{ConnID: "c1"})
	m, effects := mc.Transition(m, ConnectRequested{ConnID: "c2"})
	assert.Empty(t, effectsOf[DialEffect](effects))
	assert.Equal(t, "c1", m.ConnID)

	m, _ = mc.Transition(m, TransportOpened{ConnID: "c1"})
	m, effects = mc.Transition(m, ConnectRequested{ConnID: "c3"})
	assert.Empty(t, effectsOf[DialEffect](effects))
	assert.Equal(t, StateConnected, m.State)
	assert.Equal(t, "c1", m.ConnID)
}

func TestTransitionConnectInvalidURL(t *testing.T) {
	mc := testMachine()
	mc.Params.Endpoint = "ftp://example.com/ws"

	m, effects := mc.Transition(Model{}, ConnectRequested{ConnID: "c1"})

	assert.Equal(t, StateDisconnected, m.State)
	assert.Empty(t, m.ConnID)
	assert.ErrorIs(t, m.Err, ErrConnectFailed)
	assert.Equal(t, msgConnectFailed, UserMessage(m.Err))
	assert.Empty(t, effectsOf[DialEffect](effects))
	assert.Empty(t, effectsOf[ScheduleReconnectEffect](effects))
}

func TestTransitionOpenResetsAttempts(t *testing.T) {
	mc := testMachine()
	m := Model{Attempts: 3, Err: ErrConnection}

	m, _ = mc.Transition(m, ConnectRequested{ConnID: "c1"})
	m, _ = mc.Transition(m, TransportOpened{ConnID: "c1"})

	assert.Equal(t, StateConnected, m.State)
	assert.Zero(t, m.Attempts)
	assert.NoError(t, m.Err)
}

func TestTransitionStaleOpenIsClosed(t *testing.T) {
	mc := testMachine()

	m, _ := mc.Transition(Model{}, ConnectRequested{ConnID: "c1"})
	m, _ = mc.Transition(m, DisconnectRequested{})
	m, effects := mc.Transition(m, TransportOpened{ConnID: "c1"})

	assert.Equal(t, StateDisconnected, m.State)
	closes := effectsOf[CloseTransportEffect](effects)
	require.Len(t, closes, 1)
	assert.Equal(t, "c1", closes[0].ConnID)
	assert.Equal(t, CloseNormalClosure, closes[0].Code)
}

func TestTransitionFramesAppendInOrder(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	frames := []string{
		`{"type":"system","content":"bob joined"}`,
		`not json`,
		`{"type":"message","username":"bob","user_id":"u-9","content":"hey","timestamp":"2024-05-01T10:00:00Z"}`,
		`[1,2,3]`,
		`{"type":"message","content":"second"}`,
		``,
	}
	var log []ChatMessage
	for _, f := range frames {
		var effects []Effect
		m, effects = mc.Transition(m, FrameReceived{ConnID: "c1", Data: []byte(f), ReceivedAt: time.Now()})
		for _, a := range effectsOf[AppendMessageEffect](effects) {
			log = append(log, a.Message)
		}
	}

	require.Len(t, log, 3)
	assert.Equal(t, KindSystem, log[0].Kind)
	assert.Equal(t, "hey", log[1].Content)
	assert.Equal(t, "bob", log[1].Username)
	assert.Equal(t, "second", log[2].Content)
	assert.Equal(t, StateConnected, m.State)
	assert.NoError(t, m.Err)
}

func TestTransitionFramesFromStaleHandleIgnored(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	_, effects := mc.Transition(m, FrameReceived{ConnID: "old", Data: []byte(`{"type":"system","content":"x"}`)})
	assert.Empty(t, effectsOf[AppendMessageEffect](effects))
}

func TestTransitionSessionLifecycle(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")
	assert.Empty(t, m.SessionID)

	m, _ = mc.Transition(m, FrameReceived{ConnID: "c1", Data: []byte(`{"type":"user_connected","user_id":"u-1","content":"welcome"}`)})
	assert.Equal(t, "u-1", m.SessionID)

	m, _ = mc.Transition(m, FrameReceived{ConnID: "c1", Data: []byte(`{"type":"user_connected","user_id":"u-2","content":"welcome"}`)})
	assert.Equal(t, "u-2", m.SessionID)

	m, _ = mc.Transition(m, TransportClosed{ConnID: "c1", Code: CloseNormalClosure})
	assert.Equal(t, StateDisconnected, m.State)
	assert.Empty(t, m.SessionID)
}

func TestTransitionNumericUserIDAssignsSession(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, FrameReceived{ConnID: "c1", Data: []byte(`{"type":"user_connected","user_id":123,"content":"welcome"}`)})

	assert.Equal(t, "123", m.SessionID)
	assert.Len(t, effectsOf[AppendMessageEffect](effects), 1)
}

func TestTransitionBackoffSequence(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, TransportClosed{ConnID: "c1", Code: CloseAbnormalClosure})

	var delays []time.Duration
	for i := 0; ; i++ {
		scheduled := effectsOf[ScheduleReconnectEffect](effects)
		if len(scheduled) == 0 {
			break
		}
		require.Len(t, scheduled, 1)
		assert.Equal(t, i+1, scheduled[0].Attempt)
		delays = append(delays, scheduled[0].Delay)

		connID := "r" + string(rune('0'+i))
		m, effects = mc.Transition(m, ReconnectDue{TimerID: scheduled[0].TimerID, ConnID: connID})
		require.Len(t, effectsOf[DialEffect](effects), 1)
		m, effects = mc.Transition(m, DialFailed{ConnID: connID, Err: errors.New("connection refused")})
	}

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}, delays)
	assert.Equal(t, StateDisconnected, m.State)
	assert.Equal(t, 5, m.Attempts)
	assert.True(t, IsTerminal(m.Err))
	assert.Equal(t, msgMaxReconnect, UserMessage(m.Err))
}

func TestTransitionNormalCloseDoesNotReconnect(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, TransportClosed{ConnID: "c1", Code: CloseNormalClosure})

	assert.Equal(t, StateDisconnected, m.State)
	assert.Empty(t, effectsOf[ScheduleReconnectEffect](effects))
	assert.NoError(t, m.Err)
	assert.Zero(t, m.TimerID)
}

func TestTransitionReconnectDisabled(t *testing.T) {
	mc := testMachine()
	mc.Policy.Disabled = true
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, TransportClosed{ConnID: "c1", Code: CloseAbnormalClosure})

	assert.Empty(t, effectsOf[ScheduleReconnectEffect](effects))
	assert.NoError(t, m.Err)
}

func TestTransitionTransportErrorKeepsState(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, TransportFailed{ConnID: "c1", Err: errors.New("broken pipe")})

	assert.Equal(t, StateConnected, m.State)
	assert.ErrorIs(t, m.Err, ErrConnection)
	assert.Empty(t, effectsOf[ScheduleReconnectEffect](effects))
}

func TestTransitionDisconnectCancelsPendingReconnect(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, TransportClosed{ConnID: "c1", Code: CloseAbnormalClosure})
	scheduled := effectsOf[ScheduleReconnectEffect](effects)
	require.Len(t, scheduled, 1)

	m, effects = mc.Transition(m, DisconnectRequested{})
	cancels := effectsOf[CancelReconnectEffect](effects)
	require.Len(t, cancels, 1)
	assert.Equal(t, scheduled[0].TimerID, cancels[0].TimerID)
	assert.Zero(t, m.TimerID)

	m, effects = mc.Transition(m, ReconnectDue{TimerID: scheduled[0].TimerID, ConnID: "late"})
	assert.Empty(t, effectsOf[DialEffect](effects))
	assert.Equal(t, StateDisconnected, m.State)
}

func TestTransitionDisconnectIsIdempotent(t *testing.T) {
	mc := testMachine()

	m, effects := mc.Transition(Model{}, DisconnectRequested{})
	assert.Empty(t, effects)
	assert.Equal(t, Model{}, m)

	m = connected(t, mc, "c1")
	m, effects = mc.Transition(m, DisconnectRequested{})
	closes := effectsOf[CloseTransportEffect](effects)
	require.Len(t, closes, 1)
	assert.Equal(t, reasonUserDisconnect, closes[0].Reason)

	_, effects = mc.Transition(m, DisconnectRequested{})
	assert.Empty(t, effects)
}

func TestTransitionManualConnectAfterMaxAttempts(t *testing.T) {
	mc := testMachine()
	m := Model{Attempts: 5, Err: ErrMaxReconnect}

	m, effects := mc.Transition(m, ConnectRequested{ConnID: "c1"})
	require.Len(t, effectsOf[DialEffect](effects), 1)
	assert.NoError(t, m.Err)

	m, _ = mc.Transition(m, TransportOpened{ConnID: "c1"})
	assert.Zero(t, m.Attempts)
}

func TestTransitionDisposed(t *testing.T) {
	mc := testMachine()
	m := connected(t, mc, "c1")

	m, effects := mc.Transition(m, Disposed{})
	assert.True(t, m.Closed)
	closes := effectsOf[CloseTransportEffect](effects)
	require.Len(t, closes, 1)
	assert.Equal(t, reasonClientClosed, closes[0].Reason)

	_, effects = mc.Transition(m, ConnectRequested{ConnID: "c2"})
	assert.Empty(t, effects)
}

func TestPrepareSend(t *testing.T) {
	mc := testMachine()
	mc.MaxMessageLength = 5

	_, _, err := mc.PrepareSend(Model{}, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	m := connected(t, mc, "c1")

	_, _, err = mc.PrepareSend(m, "   \t\n")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, _, err = mc.PrepareSend(m, "toolong")
	assert.ErrorIs(t, err, ErrMessageTooLong)

	connID, frame, err := mc.PrepareSend(m, "  héllo ")
	require.NoError(t, err)
	assert.Equal(t, "c1", connID)
	assert.JSONEq(t, `{"type":"message","content":"héllo"}`, string(frame))

	m.Closed = true
	_, _, err = mc.PrepareSend(m, "hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTransitionScenario(t *testing.T) {
	mc := testMachine()

	m, effects := mc.Transition(Model{}, ConnectRequested{ConnID: "c1"})
	require.Len(t, effectsOf[DialEffect](effects), 1)

	m, _ = mc.Transition(m, TransportOpened{ConnID: "c1"})
	assert.Equal(t, StateConnected, m.State)
	assert.Zero(t, m.Attempts)

	m, effects = mc.Transition(m, FrameReceived{
		ConnID: "c1",
		Data:   []byte(`{"type":"user_connected","user_id":"u-123","content":"welcome"}`),
	})
	assert.Equal(t, "u-123", m.SessionID)
	assert.Len(t, effectsOf[AppendMessageEffect](effects), 1)

	connID, frame, err := mc.PrepareSend(m, "hi")
	require.NoError(t, err)
	assert.Equal(t, "c1", connID)
	assert.JSONEq(t, `{"type":"message","content":"hi"}`, string(frame))

	m, effects = mc.Transition(m, TransportClosed{ConnID: "c1", Code: CloseAbnormalClosure})
	assert.Equal(t, StateDisconnected, m.State)
	assert.Empty(t, m.SessionID)
	scheduled := effectsOf[ScheduleReconnectEffect](effects)
	require.Len(t, scheduled, 1)
	assert.Equal(t, 2*time.Second, scheduled[0].Delay)
}
