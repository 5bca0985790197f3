package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/geomcp/internal/channel"
)

func dialWS(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, baseURL+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) channel.WireFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var frame channel.WireFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestWSConnectionEvent(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env.ts.URL)

	frame := readFrame(t, conn)
	if frame.Event != "connection" {
		t.Fatalf("first event = %s", frame.Event)
	}
	data := frame.Data.(map[string]any)
	clientID, _ := data["client_id"].(string)
	if clientID == "" {
		t.Fatal("missing client_id")
	}
	if _, ok := env.channels.Lookup(clientID); !ok {
		t.Errorf("client %s not in registry", clientID)
	}
}

func TestWSReceivesCallResult(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env.ts.URL)
	clientID := readFrame(t, conn).Data.(map[string]any)["client_id"].(string)

	resp, ack := postJSON(t, env.ts.URL+"/mcp_call", map[string]any{
		"function":  "calculate_geodesic_distance",
		"params":    map[string]any{"coordinates_json": "1_2,3_4"},
		"client_id": clientID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	frame := readFrame(t, conn)
	if frame.Event != "result" || frame.ID != ack["call_id"] {
		t.Fatalf("frame = %+v", frame)
	}
	data := frame.Data.(map[string]any)
	if data["status"] != "success" {
		t.Errorf("data = %v", data)
	}
}
