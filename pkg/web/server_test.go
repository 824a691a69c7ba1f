package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ritzau/pugmark/pkg/footprint"
	"github.com/ritzau/pugmark/pkg/metrics"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/pubsub"
	"github.com/ritzau/pugmark/pkg/session"
)

func parcels() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := 0; i < 4; i++ {
		x := float64(i) * 0.001
		f := geojson.NewFeature(orb.Polygon{orb.Ring{
			{x, 0}, {x + 0.001, 0}, {x + 0.001, 0.001}, {x, 0.001}, {x, 0},
		}})
		f.Properties["id"] = fmt.Sprintf("p%d", i)
		fc.Append(f)
	}
	return fc
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("n%d", n)
	}
}

type fixture struct {
	server  *Server
	session *session.Session
	pub     *pubsub.SSEPublisher
	ts      *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	pub := pubsub.NewSSEPublisher(pubsub.DefaultTopics())
	t.Cleanup(func() { pub.Close() })

	sess, err := session.New(context.Background(), parcels(),
		session.WithPublisher(pub),
		session.WithIDGenerator(sequentialIDs()),
	)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}

	s := NewServer(sess, pub, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: s, session: sess, pub: pub, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func TestNodeLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/api/nodes", `{"longitude":0.002,"latitude":0.0005}`)
	expectStatus(t, resp, http.StatusCreated)
	var created model.Node
	decode(t, resp, &created)
	if created.ID != "n1" || created.Radius != session.DefaultRadius {
		t.Errorf("created node = %+v", created)
	}

	resp = f.do(t, "GET", "/api/nodes/n1", "")
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, "PATCH", "/api/nodes/n1", `{"density":3}`)
	expectStatus(t, resp, http.StatusOK)
	var updated model.Node
	decode(t, resp, &updated)
	if updated.Weight() != 3 {
		t.Errorf("density after PATCH = %v, want 3", updated.Weight())
	}

	resp = f.do(t, "PATCH", "/api/nodes/n1", `{"longitude":0.001,"latitude":0.0005}`)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &updated)
	if updated.Longitude != 0.001 || updated.Weight() != 3 {
		t.Errorf("node after move = %+v", updated)
	}

	resp = f.do(t, "GET", "/api/nodes", "")
	expectStatus(t, resp, http.StatusOK)
	var nodes []model.Node
	decode(t, resp, &nodes)
	if len(nodes) != 1 {
		t.Fatalf("GET /api/nodes returned %d nodes, want 1", len(nodes))
	}

	resp = f.do(t, "DELETE", "/api/nodes/n1", "")
	expectStatus(t, resp, http.StatusNoContent)

	resp = f.do(t, "GET", "/api/nodes/n1", "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestNodeValidation(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/nodes", `{"longitude":0,"latitude":0}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing latitude", "POST", "/api/nodes", `{"longitude":1}`, http.StatusBadRequest},
		{"malformed body", "POST", "/api/nodes", `{`, http.StatusBadRequest},
		{"half a position", "PATCH", "/api/nodes/n1", `{"longitude":1}`, http.StatusBadRequest},
		{"empty patch", "PATCH", "/api/nodes/n1", `{}`, http.StatusBadRequest},
		{"negative density", "PATCH", "/api/nodes/n1", `{"density":-1}`, http.StatusBadRequest},
		{"unknown node", "PATCH", "/api/nodes/nope", `{"density":1}`, http.StatusNotFound},
		{"delete unknown", "DELETE", "/api/nodes/nope", "", http.StatusNotFound},
		{"zero radius", "PUT", "/api/radius", `{"radius":0}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRejectedPatchChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/nodes", `{"longitude":1,"latitude":1}`)

	resp := f.do(t, "PATCH", "/api/nodes/n1", `{"longitude":5,"latitude":5,"density":-1}`)
	expectStatus(t, resp, http.StatusBadRequest)

	n, err := f.session.Node("n1")
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if n.Longitude != 1 || n.Latitude != 1 || n.Weight() != model.DefaultDensity {
		t.Errorf("node after rejected PATCH = %+v", n)
	}

	latest, ok := f.pub.Latest(pubsub.TopicNodes)
	if !ok || latest.Type != session.EventNodeAdded {
		t.Errorf("latest nodes event = %+v, want %s", latest, session.EventNodeAdded)
	}
}

func TestRadius(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/nodes", `{"longitude":0.002,"latitude":0.0005}`)

	resp := f.do(t, "PUT", "/api/radius", `{"radius":500}`)
	expectStatus(t, resp, http.StatusOK)
	var body radiusBody
	decode(t, resp, &body)
	if body.Radius != 500 {
		t.Errorf("radius = %v, want 500", body.Radius)
	}

	for _, n := range f.session.Nodes() {
		if n.Radius != 500 {
			t.Errorf("node %s radius = %v, want 500", n.ID, n.Radius)
		}
	}
}

func TestImportExport(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/api/nodes/import",
		`[{"id":"a","longitude":0.001,"latitude":0.0005,"radius":1600},{"id":"b","longitude":0.003,"latitude":0.0005,"density":2,"radius":1600}]`)
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, "GET", "/api/nodes/export", "")
	expectStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "nodes.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var exported []model.Node
	decode(t, resp, &exported)
	if len(exported) != 2 || exported[0].ID != "a" || exported[1].Weight() != 2 {
		t.Errorf("exported = %+v", exported)
	}

	// A bad import leaves the nodes alone
	resp = f.do(t, "POST", "/api/nodes/import", `[{"id":"c","longitude":1}]`)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := len(f.session.Nodes()); got != 2 {
		t.Errorf("nodes after rejected import = %d, want 2", got)
	}
}

func TestDerivedEndpoints(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/nodes", `{"longitude":0.002,"latitude":0.0005}`)

	var influence geojson.FeatureCollection
	resp := f.do(t, "GET", "/api/influence", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &influence)
	if len(influence.Features) != 1 {
		t.Errorf("influence features = %d, want 1", len(influence.Features))
	}

	var filtered geojson.FeatureCollection
	resp = f.do(t, "GET", "/api/parcels", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &filtered)
	if len(filtered.Features) != 4 {
		t.Errorf("parcels = %d, want 4", len(filtered.Features))
	}

	var clusters geojson.FeatureCollection
	resp = f.do(t, "GET", "/api/clusters", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &clusters)
	if len(clusters.Features) != 1 {
		t.Errorf("clusters = %d, want 1", len(clusters.Features))
	}

	var analysis analysisResponse
	resp = f.do(t, "GET", "/api/analysis", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &analysis)
	if analysis.Summary.Nodes != 1 || analysis.Summary.Clusters != 1 || analysis.Summary.Parcels != 4 {
		t.Errorf("analysis summary = %+v", analysis.Summary)
	}

	var summary map[string]any
	resp = f.do(t, "GET", "/api/stats", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &summary)
	if summary["totalDensity"] != 1.0 {
		t.Errorf("stats = %v", summary)
	}
}

func TestFootprints(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/api/footprints", "")
	expectStatus(t, resp, http.StatusNotImplemented)

	f = newFixture(t, WithFootprints(footprint.MaskBounds, "mask"))
	f.do(t, "POST", "/api/nodes", `{"longitude":0.002,"latitude":0.0005}`)
	resp = f.do(t, "GET", "/api/footprints", "")
	expectStatus(t, resp, http.StatusOK)

	var body footprintResponse
	decode(t, resp, &body)
	if body.Footprints == nil || len(body.Footprints.Features) != 1 {
		t.Fatalf("footprints = %+v", body.Footprints)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	f := newFixture(t, WithMetrics(collector))
	f.do(t, "GET", "/api/nodes", "")

	resp := f.do(t, "GET", "/metrics", "")
	expectStatus(t, resp, http.StatusOK)

	var sb strings.Builder
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		sb.WriteString(sc.Text())
		sb.WriteByte('\n')
	}
	if !strings.Contains(sb.String(), `route="/api/nodes"`) {
		t.Errorf("metrics output lacks the /api/nodes route:\n%s", sb.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/healthz", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response has no X-Request-ID")
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/api/subscribe/bogus", "")
	expectStatus(t, resp, http.StatusNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", f.ts.URL+"/api/subscribe/analysis", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// The latest analysis is replayed to new subscribers
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev pubsub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev.Topic != pubsub.TopicAnalysis {
			t.Errorf("event topic = %q", ev.Topic)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func TestStartShutsDown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
