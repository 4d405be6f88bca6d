package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"
)

type fakeRequest struct {
	Method string
	Params map[string]any
}

// fakeKMS answers the subset of the Kurento protocol the client speaks.
type fakeKMS struct {
	mu   sync.Mutex
	reqs []fakeRequest
	conn *jsonrpc2.Conn
	seq  int
}

func newFakeKMS(t *testing.T) (*fakeKMS, string) {
	t.Helper()
	k := &fakeKMS{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := jsonrpc2.NewConn(context.Background(), jsonrpc2ws.NewObjectStream(ws), jsonrpc2.HandlerWithError(k.handle))
		<-conn.DisconnectNotify()
	}))
	t.Cleanup(srv.Close)
	return k, "ws" + strings.TrimPrefix(srv.URL, "http") + "/kurento"
}

func (k *fakeKMS) handle(_ context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params map[string]any
	if req.Params != nil {
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, err
		}
	}
	k.mu.Lock()
	k.conn = conn
	k.reqs = append(k.reqs, fakeRequest{Method: req.Method, Params: params})
	k.seq++
	seq := k.seq
	k.mu.Unlock()

	res := map[string]any{"sessionId": "sess-1"}
	switch req.Method {
	case "ping":
		res["value"] = "pong"
	case "create":
		res["value"] = fmt.Sprintf("%s_%d", params["type"], seq)
	case "subscribe":
		res["value"] = fmt.Sprintf("sub_%d", seq)
	case "invoke":
		if params["operation"] == "processOffer" {
			op, _ := params["operationParams"].(map[string]any)
			if op["offer"] == "bad" {
				return nil, &jsonrpc2.Error{Code: 40208, Message: "SDP offer rejected"}
			}
			res["value"] = "answer-sdp"
		}
	}
	return res, nil
}

func (k *fakeKMS) last(method string) fakeRequest {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := len(k.reqs) - 1; i >= 0; i-- {
		if k.reqs[i].Method == method {
			return k.reqs[i]
		}
	}
	return fakeRequest{}
}

func (k *fakeKMS) notify(t *testing.T, object, event string, data map[string]any) {
	t.Helper()
	k.mu.Lock()
	conn := k.conn
	k.mu.Unlock()
	params := map[string]any{"value": map[string]any{"object": object, "type": event, "data": data}}
	if err := conn.Notify(context.Background(), "onEvent", params); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func connect(t *testing.T, uri string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mc, err := Connector{PingInterval: time.Minute}.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = mc.Close() })
	return mc.(*Client)
}

func TestConnectPingsAndLearnsSession(t *testing.T) {
	k, uri := newFakeKMS(t)
	c := connect(t, uri)

	ping := k.last("ping")
	if ping.Params["interval"] != float64(60000) {
		t.Fatalf("ping params = %v", ping.Params)
	}
	if _, ok := ping.Params["sessionId"]; ok {
		t.Fatal("first request carried a session id")
	}

	p, err := c.CreatePipeline(context.Background())
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if !strings.HasPrefix(p.ID(), "MediaPipeline_") {
		t.Fatalf("pipeline id = %q", p.ID())
	}
	create := k.last("create")
	if create.Params["type"] != "MediaPipeline" || create.Params["sessionId"] != "sess-1" {
		t.Fatalf("create params = %v", create.Params)
	}
}

func TestEndpointCalls(t *testing.T) {
	k, uri := newFakeKMS(t)
	c := connect(t, uri)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ep, err := p.CreateWebRTCEndpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := k.last("create").Params["constructorParams"].(map[string]any)["mediaPipeline"]; got != p.ID() {
		t.Fatalf("endpoint created on %v", got)
	}

	answer, err := ep.ProcessOffer(ctx, "offer-sdp")
	if err != nil || answer != "answer-sdp" {
		t.Fatalf("ProcessOffer = %q, %v", answer, err)
	}

	if err := ep.AddICECandidate(ctx, testutil.Candidate(3)); err != nil {
		t.Fatal(err)
	}
	add := k.last("invoke").Params
	cand := add["operationParams"].(map[string]any)["candidate"].(map[string]any)
	if add["operation"] != "addIceCandidate" || cand["__module__"] != "kurento" || cand["__type__"] != "IceCandidate" {
		t.Fatalf("addIceCandidate params = %v", add)
	}
	if cand["candidate"] != testutil.Candidate(3).Candidate || cand["sdpMid"] != "0" {
		t.Fatalf("candidate = %v", cand)
	}

	rec, err := p.CreateRecorderEndpoint(ctx, "file:///tmp/records/f.webm", "WEBM_AUDIO_ONLY")
	if err != nil {
		t.Fatal(err)
	}
	ctor := k.last("create").Params["constructorParams"].(map[string]any)
	if ctor["uri"] != "file:///tmp/records/f.webm" || ctor["mediaProfile"] != "WEBM_AUDIO_ONLY" {
		t.Fatalf("recorder ctor = %v", ctor)
	}

	if err := ep.Connect(ctx, rec, core.MediaAudio); err != nil {
		t.Fatal(err)
	}
	op := k.last("invoke").Params["operationParams"].(map[string]any)
	if op["sink"] != rec.ID() || op["mediaType"] != "AUDIO" {
		t.Fatalf("connect params = %v", op)
	}
	if err := ep.Connect(ctx, rec, core.MediaAll); err != nil {
		t.Fatal(err)
	}
	if _, ok := k.last("invoke").Params["operationParams"].(map[string]any)["mediaType"]; ok {
		t.Fatal("connect for all media sent a mediaType")
	}

	if err := rec.Record(ctx); err != nil {
		t.Fatal(err)
	}
	if inv := k.last("invoke").Params; inv["operation"] != "record" || inv["object"] != rec.ID() {
		t.Fatalf("record params = %v", inv)
	}
	if err := ep.GatherCandidates(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if k.last("release").Params["object"] != p.ID() {
		t.Fatalf("release params = %v", k.last("release").Params)
	}
}

func TestErrorReplyKeepsServerMessage(t *testing.T) {
	_, uri := newFakeKMS(t)
	c := connect(t, uri)
	ctx := context.Background()

	p, _ := c.CreatePipeline(ctx)
	ep, _ := p.CreateWebRTCEndpoint(ctx)
	_, err := ep.ProcessOffer(ctx, "bad")

	var kerr *Error
	if !errors.As(err, &kerr) {
		t.Fatalf("err = %#v", err)
	}
	if err.Error() != "SDP offer rejected" || kerr.Code != 40208 || kerr.Method != "invoke" {
		t.Fatalf("err = %+v", kerr)
	}
}

func TestICECandidateEvents(t *testing.T) {
	k, uri := newFakeKMS(t)
	c := connect(t, uri)
	ctx := context.Background()

	p, _ := c.CreatePipeline(ctx)
	ep, _ := p.CreateWebRTCEndpoint(ctx)

	got := make(chan webrtc.ICECandidateInit, 2)
	if err := ep.OnICECandidate(ctx, func(c webrtc.ICECandidateInit) { got <- c }); err != nil {
		t.Fatal(err)
	}
	sub := k.last("subscribe").Params
	if sub["object"] != ep.ID() || sub["type"] != "IceCandidateFound" {
		t.Fatalf("subscribe params = %v", sub)
	}

	for i, event := range []string{"IceCandidateFound", "OnIceCandidate"} {
		line := testutil.Candidate(i + 1).Candidate
		k.notify(t, ep.ID(), event, map[string]any{
			"source":    ep.ID(),
			"type":      event,
			"candidate": map[string]any{"candidate": line, "sdpMid": "0", "sdpMLineIndex": 0},
		})
		c := testutil.RequireReceive(t, got, 2*time.Second, "no candidate for %s", event)
		if c.Candidate != line || c.SDPMid == nil || *c.SDPMid != "0" {
			t.Fatalf("%s: candidate = %+v", event, c)
		}
	}
}

func TestEndOfStreamUntilRelease(t *testing.T) {
	k, uri := newFakeKMS(t)
	c := connect(t, uri)
	ctx := context.Background()

	p, _ := c.CreatePipeline(ctx)
	player, err := p.CreatePlayerEndpoint(ctx, "file:///tmp/records/f.webm")
	if err != nil {
		t.Fatal(err)
	}
	eos := make(chan struct{}, 2)
	if err := player.OnEndOfStream(ctx, func() { eos <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	if err := player.Play(ctx); err != nil {
		t.Fatal(err)
	}

	k.notify(t, player.ID(), "EndOfStream", map[string]any{"source": player.ID(), "type": "EndOfStream"})
	testutil.RequireReceive(t, eos, 2*time.Second, "end of stream not delivered")

	if err := player.Release(ctx); err != nil {
		t.Fatal(err)
	}
	k.notify(t, player.ID(), "EndOfStream", map[string]any{"source": player.ID(), "type": "EndOfStream"})
	select {
	case <-eos:
		t.Fatal("event delivered after release")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := (Connector{}).Connect(ctx, "ws://127.0.0.1:1/kurento"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestICECandidateEventsKeepServerOrder(t *testing.T) {
	k, uri := newFakeKMS(t)
	c := connect(t, uri)
	ctx := context.Background()

	p, _ := c.CreatePipeline(ctx)
	ep, _ := p.CreateWebRTCEndpoint(ctx)

	const n = 50
	got := make(chan string, n)
	if err := ep.OnICECandidate(ctx, func(c webrtc.ICECandidateInit) { got <- c.Candidate }); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		k.notify(t, ep.ID(), "IceCandidateFound", map[string]any{
			"source":    ep.ID(),
			"candidate": map[string]any{"candidate": testutil.Candidate(i).Candidate, "sdpMid": "0", "sdpMLineIndex": 0},
		})
	}
	for i := 1; i <= n; i++ {
		line := testutil.RequireReceive(t, got, 2*time.Second, "candidate %d not delivered", i)
		if line != testutil.Candidate(i).Candidate {
			t.Fatalf("candidate %d = %q, want %q", i, line, testutil.Candidate(i).Candidate)
		}
	}
}
