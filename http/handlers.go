package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"winequality/db"
	"winequality/evaluation"
	"winequality/ml"
	"winequality/monitoring"
	"winequality/service"
)

// TrainingHistory reads stored training runs and the prediction audit log.
type TrainingHistory interface {
	ListTrainingRuns(ctx context.Context, limit int) ([]db.TrainingLog, error)
	ROCPoints(ctx context.Context, runID int64) ([]evaluation.ROCPoint, error)
	CountPredictions(ctx context.Context) (int, error)
}

type errorBody struct {
	Error string `json:"error"`
}

type statusResponse struct {
	State       service.State    `json:"state"`
	DatasetSize int              `json:"dataset_size"`
	Model       *ml.ModelSummary `json:"model"`
	Uptime      string           `json:"uptime"`
}

// api holds the handler dependencies.
type api struct {
	svc     *service.Service
	history TrainingHistory
	metrics *monitoring.MetricsCollector
	hub     *Hub
	logger  *zap.Logger
}

// RegisterHandlers 注册所有处理器
func (a *api) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/features", a.handleFeatures)
	mux.HandleFunc("GET /api/correlation", a.handleCorrelation)
	mux.HandleFunc("GET /api/correlation/matrix", a.handleCorrelationMatrix)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("GET /api/evaluation", a.handleEvaluation)
	mux.HandleFunc("GET /api/training/history", a.handleTrainingHistory)
	mux.HandleFunc("GET /api/training/history/{id}/roc", a.handleTrainingROC)
	mux.HandleFunc("GET /api/ws", a.hub.HandleWebSocket)
	mux.HandleFunc("GET /metrics", a.handleMetrics)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:       a.svc.State(),
		DatasetSize: a.svc.Dataset().Len(),
		Uptime:      a.metrics.GetUptime().Round(time.Second).String(),
	}
	if model := a.svc.Model(); model != nil {
		summary := model.Summary()
		resp.Model = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Features())
}

func (a *api) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	x, y := query.Get("x"), query.Get("y")
	if x == "" || y == "" {
		a.writeError(w, &service.InvalidInputError{Reason: "query parameters x and y are required"})
		return
	}
	projection, err := a.svc.Correlation(x, y)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

func (a *api) handleCorrelationMatrix(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.CorrelationMatrix())
}

func (a *api) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		a.writeError(w, &service.InvalidInputError{Reason: "cannot read request body"})
		return
	}

	prediction, err := a.predict(r.Context(), body)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

// predict is shared by the REST and websocket surfaces.
func (a *api) predict(ctx context.Context, body []byte) (*service.Prediction, error) {
	req, err := service.ParsePredictionRequest(body)
	if err != nil {
		return nil, err
	}
	prediction, err := a.svc.Predict(ctx, req)
	if err != nil {
		return nil, err
	}
	a.metrics.IncrCounter("predictions_total", 1, map[string]string{"quality": prediction.Quality})
	return prediction, nil
}

func (a *api) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	report := a.svc.Report()
	if report == nil {
		a.writeError(w, service.ErrUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "training history is not configured"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 0 {
			a.writeError(w, &service.InvalidInputError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		limit = l
	}
	runs, err := a.history.ListTrainingRuns(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	logged, err := a.history.CountPredictions(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":               runs,
		"predictions_logged": logged,
	})
}

func (a *api) handleTrainingROC(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "training history is not configured"})
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, &service.InvalidInputError{Field: "id", Reason: "must be a positive integer"})
		return
	}
	points, err := a.history.ROCPoints(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if len(points) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no ROC curve stored for run %d", id)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": id, "roc": points})
}

func (a *api) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	io.WriteString(w, a.metrics.ExportPrometheus())
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var unknown *service.UnknownFeatureError
	var invalid *service.InvalidInputError
	switch {
	case errors.As(err, &unknown), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
