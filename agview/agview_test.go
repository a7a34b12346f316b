package agview

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atomgrid/atomgrid/agbuild"
	"github.com/gorilla/websocket"
)

func TestBroadcastReachesClient(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status %d", resp.StatusCode)
	}

	// The handler registers the connection after the upgrade handshake;
	// broadcast until the message lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		st := agbuild.BuildStats{Atoms: 42, References: 7}
		for {
			select {
			case <-done:
				return
			default:
			}
			srv.Broadcast(st)
			time.Sleep(5 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got FrameStats
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Atoms != 42 || got.References != 7 {
		t.Fatalf("got %+v", got)
	}
	if got.Frame <= 0 {
		t.Errorf("frame counter %d, want positive", got.Frame)
	}
}

func TestBroadcastDropsDeadClient(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	// Broadcasting to a closed client must drop it, never block or fail.
	deadline := time.Now().Add(5 * time.Second)
	for {
		srv.Broadcast(agbuild.BuildStats{})
		srv.mu.RLock()
		n := len(srv.conns)
		srv.mu.RUnlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dead client still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIndexPage(t *testing.T) {
	ts := httptest.NewServer(NewServer().Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type %q", ct)
	}
}
