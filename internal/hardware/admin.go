package hardware

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminFS embed.FS

var consoleTemplate = template.Must(template.ParseFS(adminFS, "templates/send-command.html.tmpl"))

// AttachAdminRoutes mounts the bridge console under /debug/: a command
// form, a raw line tail over server-sent events and the latest IMU samples.
func (b *Bridge[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("bridge", "send a command to the controller bridge", b.handleConsole)
	debug.HandleSilentFunc("send-command-api", b.handleSendCommand)
	debug.HandleSilentFunc("tail", b.handleTail)
	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, adminFS, "templates/tail.js")
	})
	debug.HandleFunc("imu", "latest IMU sample per device", b.handleIMU)
}

func (b *Bridge[T]) handleConsole(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consoleTemplate.Execute(w, struct{ Path string }{b.path}); err != nil {
		http.Error(w, "failed to render console", http.StatusInternalServerError)
	}
}

func (b *Bridge[T]) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" || strings.ContainsAny(command, "\r\n") {
		http.Error(w, "command must be a single non-empty line", http.StatusBadRequest)
		return
	}
	if err := b.SendCommand(command); err != nil {
		http.Error(w, fmt.Sprintf("write failed: %v", err), http.StatusBadGateway)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to bridge", command)
}

// handleTail streams every raw bridge line until the client goes away or
// the bridge closes.
func (b *Bridge[T]) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")

	id, lines := b.Subscribe()
	defer b.Unsubscribe(id)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (b *Bridge[T]) handleIMU(w http.ResponseWriter, r *http.Request) {
	b.imuMu.RLock()
	samples := make([]IMUSample, 0, len(b.imu))
	for _, s := range b.imu {
		samples = append(samples, s)
	}
	b.imuMu.RUnlock()
	sort.Slice(samples, func(i, j int) bool { return samples[i].Serial < samples[j].Serial })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(samples)
}
