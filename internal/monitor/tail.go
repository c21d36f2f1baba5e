package monitor

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/publish"
)

const (
	defaultTailEvery = 9 // ~10 Hz at 90 Hz
	tailWriteTimeout = 2 * time.Second
)

// The zero CheckOrigin rejects handshakes whose Origin host differs from
// the request host, so other sites cannot read the tail from a browser.
var upgrader = websocket.Upgrader{}

// tailOptions parses ?every=N&serial=X&edges=1 from the request.
func tailOptions(r *http.Request) (int, publish.StreamOptions) {
	q := r.URL.Query()
	every := defaultTailEvery
	if v, err := strconv.Atoi(q.Get("every")); err == nil && v > 0 {
		every = v
	}
	var o publish.StreamOptions
	if serials := q["serial"]; len(serials) > 0 {
		o.Serials = make(map[string]bool, len(serials))
		for _, s := range serials {
			o.Serials[s] = true
		}
	}
	o.IncludeEdges = q.Get("edges") == "1" || q.Get("edges") == "true"
	o.TrackedOnly = q.Get("tracked") == "1" || q.Get("tracked") == "true"
	return every, o
}

// handleFramesWebSocket streams every Nth snapshot as JSON until the client
// disconnects or the publisher stops.
func (ws *WebServer) handleFramesWebSocket(w http.ResponseWriter, r *http.Request) {
	if ws.frames == nil {
		http.Error(w, "frame publisher not configured", http.StatusServiceUnavailable)
		return
	}
	every, streamOpts := tailOptions(r)

	frames, cancel, err := ws.frames.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[Monitor] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Reads only detect the close; the tail is one-way.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					monitoring.Logf("[Monitor] websocket error: %v", err)
				}
				return
			}
		}
	}()

	var n int
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-frames:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "publisher stopped"),
					time.Now().Add(tailWriteTimeout))
				return
			}
			n++
			if (n-1)%every != 0 {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(tailWriteTimeout))
			if err := conn.WriteJSON(publish.SnapshotMap(snap, streamOpts)); err != nil {
				monitoring.Logf("[Monitor] websocket write error: %v", err)
				return
			}
		}
	}
}

const framesPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>vrtrack frames</title>
<style>body{font-family:monospace;background:#111;color:#ddd}pre{white-space:pre-wrap}</style>
</head><body>
<h3>Live frames</h3>
<pre id="out">connecting...</pre>
<script>
const proto = location.protocol === "https:" ? "wss://" : "ws://";
const ws = new WebSocket(proto + location.host + "/debug/frames-ws%s");
const out = document.getElementById("out");
ws.onmessage = (ev) => { out.textContent = JSON.stringify(JSON.parse(ev.data), null, 2); };
ws.onclose = () => { out.textContent += "\n[closed]"; };
</script>
</body></html>`

func (ws *WebServer) handleFramesPage(w http.ResponseWriter, r *http.Request) {
	query := ""
	if r.URL.RawQuery != "" {
		query = template.JSEscapeString("?" + r.URL.Query().Encode())
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, framesPage, query)
}
