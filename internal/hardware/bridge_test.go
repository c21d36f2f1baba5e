package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/vrtrack/internal/input"
)

// ----------------------------------------------------------------------------
// Line parsing
// ----------------------------------------------------------------------------

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		line    string
		want    ParsedLine
		wantErr bool
	}{
		{
			name: "button",
			line: `{"type":"button","serial":"CTL-L","button":"trigger","pressed":true}`,
			want: ParsedLine{Type: LineTypeButton, Control: &ControlEvent{
				Serial: "CTL-L", Type: input.EventButton, Button: input.ButtonTrigger, Pressed: true}},
		},
		{
			name: "axis",
			line: `{"type":"axis","serial":"CTL-R","axis":"joystick","x":0.5,"y":-0.25}`,
			want: ParsedLine{Type: LineTypeAxis, Control: &ControlEvent{
				Serial: "CTL-R", Type: input.EventAxis, Axis: input.AxisJoystick, X: 0.5, Y: -0.25}},
		},
		{
			name: "imu",
			line: `  {"type":"imu","serial":"HMD","t":42,"accel":[0,9.81,0],"gyro":[0.1,0,0]}  `,
			want: ParsedLine{Type: LineTypeIMU, IMU: &IMUSample{
				Serial: "HMD", TimestampNanos: 42, Accel: [3]float64{0, 9.81, 0}, Gyro: [3]float64{0.1, 0, 0}}},
		},
		{name: "status", line: `{"type":"status","fw":"1.2"}`, want: ParsedLine{Type: LineTypeStatus}},
		{name: "not json", line: "OK", wantErr: true},
		{name: "bad json", line: "{nope", wantErr: true},
		{name: "unknown type", line: `{"type":"sparkle"}`, wantErr: true},
		{name: "unknown button", line: `{"type":"button","serial":"X","button":"turbo"}`, wantErr: true},
		{name: "missing serial", line: `{"type":"axis","axis":"grip","x":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatHaptic(t *testing.T) {
	t.Parallel()
	got := FormatHaptic(input.HapticCommand{Serial: "CTL-L", DurationUs: 5000, FrequencyHz: 200, Amplitude: 0.8})
	assert.Equal(t, "HAPTIC CTL-L 5000 200 0.800", got)
}

// ----------------------------------------------------------------------------
// Port options
// ----------------------------------------------------------------------------

func TestPortOptions(t *testing.T) {
	t.Parallel()

	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.SerialMode()
		assert.Error(t, err, "%+v", bad)
	}
}

// ----------------------------------------------------------------------------
// Bridge
// ----------------------------------------------------------------------------

func TestBridge_SendCommand(t *testing.T) {
	t.Parallel()
	port := NewTestablePort()
	b := NewBridge(port)

	require.NoError(t, b.Initialize())
	require.NoError(t, b.SendHaptic(context.Background(), input.HapticCommand{
		Serial: "CTL-L", DurationUs: 5000, FrequencyHz: 200, Amplitude: 0.8}))
	assert.Equal(t, "STREAM BUTTONS ON\nSTREAM AXES ON\nSTREAM IMU ON\nHAPTIC CTL-L 5000 200 0.800\n", port.Written())

	port.ShortWrite = true
	assert.ErrorIs(t, b.SendCommand("PING"), ErrWriteFailed)
	port.ShortWrite = false

	port.WriteError = errors.New("unplugged")
	assert.Error(t, b.SendCommand("PING"))

	assert.Error(t, b.SendHaptic(context.Background(), input.HapticCommand{Serial: "bad serial"}))
}

func TestBridge_MonitorDispatches(t *testing.T) {
	t.Parallel()
	port := NewTestablePort()
	b := NewBridge(port)

	var mu sync.Mutex
	var events []ControlEvent
	got := make(chan struct{}, 8)
	b.SetControlHandler(func(ev ControlEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		got <- struct{}{}
	})
	subID, lines := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Monitor(ctx) }()

	port.AddReadData([]byte(
		`{"type":"imu","serial":"HMD","t":5,"accel":[0,9.8,0],"gyro":[0,0,0]}` + "\n" +
			"garbage\n" +
			`{"type":"button","serial":"CTL-L","button":"a","pressed":true}` + "\n" +
			`{"type":"axis","serial":"CTL-L","axis":"trigger","x":0.4}` + "\n"))

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("control event not dispatched")
		}
	}

	mu.Lock()
	require.Len(t, events, 2)
	assert.Equal(t, input.ButtonA, events[0].Button)
	assert.Equal(t, input.AxisTrigger, events[1].Axis)
	assert.Equal(t, 0.4, events[1].X)
	mu.Unlock()

	imu, ok := b.LatestIMU("HMD")
	require.True(t, ok)
	assert.Equal(t, int64(5), imu.TimestampNanos)

	// Raw lines reach subscribers, including unparsable ones.
	first := <-lines
	assert.True(t, strings.Contains(first, `"imu"`))
	b.Unsubscribe(subID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	require.NoError(t, b.Close())
}

func TestBridge_CloseClosesSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBridge(NewTestablePort())
	_, ch := b.Subscribe()
	require.NoError(t, b.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBridge_AdminRoutes(t *testing.T) {
	t.Parallel()
	port := NewTestablePort()
	b := NewBridge(port)
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	form := url.Values{"command": {"PING"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PING\n", port.Written())

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/bridge", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "Hardware bridge")

	req = httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=A%0AB"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.dispatch(`{"type":"imu","serial":"CTL-R","t":2,"accel":[0,0,9.8]}`)
	b.dispatch(`{"type":"imu","serial":"CTL-L","t":1,"gyro":[0.1,0,0]}`)
	req = httptest.NewRequest(http.MethodGet, "/debug/imu", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var samples []IMUSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
	require.Len(t, samples, 2)
	assert.Equal(t, "CTL-L", samples[0].Serial)
	assert.Equal(t, [3]float64{0, 0, 9.8}, samples[1].Accel)
}
