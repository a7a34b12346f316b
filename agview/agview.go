// Package agview streams per-frame build statistics of the acceleration
// structure to browsers over websocket, for live inspection of voxel
// occupancy, reference totals and drop counters while a scene runs.
package agview

import (
	"net/http"
	"sync"

	"github.com/atomgrid/atomgrid/agbuild"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FrameStats is the JSON message broadcast once per built frame.
type FrameStats struct {
	Frame int64 `json:"frame"`
	agbuild.BuildStats
}

// Server broadcasts build statistics to connected websocket clients and
// serves a minimal inspection page. The zero value is not usable; call
// [NewServer].
type Server struct {
	mu     sync.RWMutex
	conns  map[*websocket.Conn]*sync.Mutex
	frames int64
}

// NewServer returns a stats server ready to accept connections.
func NewServer() *Server {
	return &Server{conns: make(map[*websocket.Conn]*sync.Mutex)}
}

// Handler returns the HTTP handler: "/" serves the inspection page and "/ws"
// upgrades to the stats stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	wmu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = wmu
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	// Reads only serve to detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the frame's statistics to every connected client. Failed
// clients are dropped; Broadcast itself never fails.
func (s *Server) Broadcast(st agbuild.BuildStats) {
	s.mu.Lock()
	s.frames++
	msg := FrameStats{Frame: s.frames, BuildStats: st}
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, m := range s.conns {
		conns[c] = m
	}
	s.mu.Unlock()
	for conn, wmu := range conns {
		wmu.Lock()
		err := conn.WriteJSON(msg)
		wmu.Unlock()
		if err != nil {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			conn.Close()
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>atomgrid build stats</title>
<style>body{font-family:monospace;background:#101014;color:#d0d0d8;margin:2em}
td{padding:0 1em 0 0}</style></head>
<body>
<h3>atomgrid build stats</h3>
<table id="t"></table>
<script>
const t = document.getElementById("t");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const s = JSON.parse(ev.data);
  t.innerHTML = Object.entries(s).map(
    ([k, v]) => "<tr><td>" + k + "</td><td>" + v + "</td></tr>").join("");
};
</script>
</body>
</html>`
