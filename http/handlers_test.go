package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"winequality/db"
	"winequality/evaluation"
	"winequality/ml"
	"winequality/monitoring"
	"winequality/service"
)

const predictBody = `{
	"fixed acidity": 7.4, "volatile acidity": 0.7, "citric acid": 0.1,
	"residual sugar": 1.9, "chlorides": 0.076, "free sulfur dioxide": 11,
	"total sulfur dioxide": 34, "density": 0.9978, "pH": 3.51,
	"sulphates": 0.56, "alcohol": 13.9
}`

type fakeHistory struct {
	runs   []db.TrainingLog
	roc    map[int64][]evaluation.ROCPoint
	logged int
	err    error
}

func (f *fakeHistory) ROCPoints(_ context.Context, runID int64) ([]evaluation.ROCPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.roc[runID], nil
}

func (f *fakeHistory) CountPredictions(context.Context) (int, error) {
	return f.logged, f.err
}

func (f *fakeHistory) ListTrainingRuns(_ context.Context, limit int) ([]db.TrainingLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func testDataset() *ml.Dataset {
	base := [ml.FeatureCount]float64{7.4, 0.7, 0.1, 1.9, 0.076, 11, 34, 0.9978, 3.51, 0.56, 0}
	rnd := rand.New(rand.NewSource(11))
	records := make([]ml.Record, 120)
	for i := range records {
		for j := range records[i].Features {
			records[i].Features[j] = base[j] * (0.8 + 0.4*rnd.Float64())
		}
		records[i].Features[10] = 9 + rnd.Float64()*4
		records[i].Quality = 5
		if records[i].Features[10] > 11 {
			records[i].Quality = 7
		}
	}
	return ml.NewDataset(records)
}

// newTestServer returns a server over a fresh service; ready publishes a model.
func newTestServer(t *testing.T, ready bool, history TrainingHistory) (*Server, *service.Service) {
	t.Helper()
	ds := testDataset()
	svc, err := service.New(ds, service.Options{ProjectionCacheSize: 8})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	if ready {
		model, err := ml.NewLogisticRegression(ml.DefaultLogisticConfig()).Fit(ds)
		if err != nil {
			t.Fatalf("fit: %v", err)
		}
		report, err := evaluation.Evaluate(model, ds, evaluation.ScoreProbability)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if err := svc.Publish(model, report); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	srv := NewServer(DefaultServerConfig(), Dependencies{
		Service: svc,
		History: history,
		Metrics: monitoring.NewMetricsCollector(),
	})
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv, svc
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHandlePredict(t *testing.T) {
	srv, _ := newTestServer(t, true, nil)

	rr := do(t, srv.Handler(), http.MethodPost, "/api/predict", predictBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["label"].(float64) != 1 {
		t.Fatalf("unexpected label: %v", payload["label"])
	}
	if payload["text"] != "This wine is predicted to be good quality." {
		t.Fatalf("unexpected text: %v", payload["text"])
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestHandlePredictErrors(t *testing.T) {
	ready, _ := newTestServer(t, true, nil)
	unavailable, _ := newTestServer(t, false, nil)

	tests := []struct {
		name   string
		srv    *Server
		body   string
		status int
	}{
		{name: "missing alcohol", srv: ready, body: strings.Replace(predictBody, `, "alcohol": 13.9`, "", 1), status: http.StatusBadRequest},
		{name: "string value", srv: ready, body: strings.Replace(predictBody, "13.9", `"13.9"`, 1), status: http.StatusBadRequest},
		{name: "not json", srv: ready, body: "alcohol=13.9", status: http.StatusBadRequest},
		{name: "too large", srv: ready, body: `{"pad": "` + strings.Repeat("x", 2<<20) + `"}`, status: http.StatusRequestEntityTooLarge},
		{name: "model not ready", srv: unavailable, body: predictBody, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, tt.srv.Handler(), http.MethodPost, "/api/predict", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if _, ok := decode(t, rr)["error"]; !ok {
				t.Fatal("expected error field")
			}
		})
	}
}

func TestHandleCorrelation(t *testing.T) {
	srv, svc := newTestServer(t, true, nil)

	rr := do(t, srv.Handler(), http.MethodGet, "/api/correlation?x=alcohol&y=quality", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if points := payload["points"].([]interface{}); len(points) != svc.Dataset().Len() {
		t.Fatalf("expected %d points, got %d", svc.Dataset().Len(), len(points))
	}

	rr = do(t, srv.Handler(), http.MethodGet, "/api/correlation?x=bogus_feature&y=quality", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if svc.State() != service.Ready {
		t.Fatal("service left Ready after a bad projection")
	}

	rr = do(t, srv.Handler(), http.MethodGet, "/api/correlation?x=alcohol", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing y, got %d", rr.Code)
	}

	rr = do(t, srv.Handler(), http.MethodGet, "/api/correlation/matrix", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if columns := decode(t, rr)["columns"].([]interface{}); len(columns) != ml.FeatureCount+1 {
		t.Fatalf("unexpected columns: %v", columns)
	}
}

func TestHandleStatusAndEvaluation(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)

	rr := do(t, srv.Handler(), http.MethodGet, "/api/status", "")
	payload := decode(t, rr)
	if payload["state"] != "unavailable" || payload["model"] != nil {
		t.Fatalf("unexpected status: %v", payload)
	}
	if rr := do(t, srv.Handler(), http.MethodGet, "/api/evaluation", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	ready, _ := newTestServer(t, true, nil)
	payload = decode(t, do(t, ready.Handler(), http.MethodGet, "/api/status", ""))
	if payload["state"] != "ready" || payload["model"] == nil {
		t.Fatalf("unexpected status: %v", payload)
	}
	rr = do(t, ready.Handler(), http.MethodGet, "/api/evaluation", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, ok := decode(t, rr)["confusion_matrix"]; !ok {
		t.Fatal("evaluation lacks confusion matrix")
	}

	features := decode(t, do(t, ready.Handler(), http.MethodGet, "/api/features", ""))
	if inputs := features["inputs"].([]interface{}); len(inputs) != ml.FeatureCount {
		t.Fatalf("unexpected inputs: %v", inputs)
	}
}

func TestHandleTrainingHistory(t *testing.T) {
	none, _ := newTestServer(t, true, nil)
	if rr := do(t, none.Handler(), http.MethodGet, "/api/training/history", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a store, got %d", rr.Code)
	}

	history := &fakeHistory{runs: []db.TrainingLog{{ID: 2}, {ID: 1}}, logged: 3}
	srv, _ := newTestServer(t, true, history)
	payload := decode(t, do(t, srv.Handler(), http.MethodGet, "/api/training/history?limit=1", ""))
	if runs := payload["runs"].([]interface{}); len(runs) != 1 {
		t.Fatalf("expected 1 run, got %v", runs)
	}
	if payload["predictions_logged"] != float64(3) {
		t.Fatalf("unexpected predictions_logged: %v", payload["predictions_logged"])
	}
	if rr := do(t, srv.Handler(), http.MethodGet, "/api/training/history?limit=x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	failing, _ := newTestServer(t, true, &fakeHistory{err: errors.New("locked")})
	if rr := do(t, failing.Handler(), http.MethodGet, "/api/training/history", ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestHandleTrainingROC(t *testing.T) {
	none, _ := newTestServer(t, true, nil)
	if rr := do(t, none.Handler(), http.MethodGet, "/api/training/history/1/roc", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a store, got %d", rr.Code)
	}

	history := &fakeHistory{roc: map[int64][]evaluation.ROCPoint{
		4: {
			{Threshold: evaluation.Metric(math.Inf(1)), FPR: 0, TPR: 0},
			{Threshold: 0.5, FPR: 0.25, TPR: 0.75},
			{Threshold: 0, FPR: 1, TPR: 1},
		},
	}}
	srv, _ := newTestServer(t, true, history)

	payload := decode(t, do(t, srv.Handler(), http.MethodGet, "/api/training/history/4/roc", ""))
	if payload["run_id"] != float64(4) {
		t.Fatalf("unexpected run_id: %v", payload["run_id"])
	}
	roc := payload["roc"].([]interface{})
	if len(roc) != 3 {
		t.Fatalf("expected 3 points, got %v", roc)
	}
	if first := roc[0].(map[string]interface{}); first["threshold"] != nil {
		t.Fatalf("infinite threshold should encode as null, got %v", first["threshold"])
	}

	tests := []struct {
		path string
		want int
	}{
		{path: "/api/training/history/9/roc", want: http.StatusNotFound},
		{path: "/api/training/history/x/roc", want: http.StatusBadRequest},
		{path: "/api/training/history/0/roc", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rr := do(t, srv.Handler(), http.MethodGet, tt.path, ""); rr.Code != tt.want {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.want, rr.Code)
		}
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := newTestServer(t, true, nil)
	do(t, srv.Handler(), http.MethodPost, "/api/predict", predictBody)
	do(t, srv.Handler(), http.MethodGet, "/api/nowhere", "")

	rr := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	body := rr.Body.String()
	for _, want := range []string{
		`http_requests_total{method="POST",route="/api/predict",status="200"} 1`,
		`http_requests_total{method="GET",route="unmatched",status="404"} 1`,
		`predictions_total{quality="good"} 1`,
		"# TYPE http_request_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q\n%s", want, body)
		}
	}
}
