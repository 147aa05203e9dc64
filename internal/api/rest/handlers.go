package rest

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
	"github.com/davidleathers/anomaly-detection-backend/internal/domain/errors"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

// Handler carries the API dependencies for the v1 routes.
type Handler struct {
	svc    detectionsvc.Service
	hub    *StreamHub
	logger *slog.Logger
}

func NewHandler(svc detectionsvc.Service, hub *StreamHub, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, hub: hub, logger: logger}
}

type detectRequest struct {
	Features    []float64 `json:"features"`
	Algorithm   string    `json:"algorithm"`
	Description string    `json:"description"`
}

type batchRequest struct {
	Vectors   [][]float64 `json:"vectors"`
	Algorithm string      `json:"algorithm"`
}

type feedbackRequest struct {
	DetectionID string `json:"detection_id"`
	IsAnomaly   bool   `json:"is_anomaly"`
	Comment     string `json:"comment"`
}

type trainRequest struct {
	Samples   [][]float64 `json:"samples"`
	Algorithm string      `json:"algorithm"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		writeJSON(w, appErr.StatusCode, errorResponse{Error: errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
		}})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}})
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// parseAlgorithm defaults an empty selector to the ensemble.
func parseAlgorithm(s string) (detection.Algorithm, bool) {
	if s == "" {
		return detection.AlgorithmEnsemble, true
	}
	return detection.ParseAlgorithm(s)
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	algorithm, ok := parseAlgorithm(req.Algorithm)
	if !ok {
		writeBadRequest(w, "UNKNOWN_ALGORITHM", "unknown algorithm "+strconv.Quote(req.Algorithm))
		return
	}

	record, err := h.svc.Detect(r.Context(), detectionsvc.DetectRequest{
		Features:    req.Features,
		Algorithm:   algorithm,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.Broadcast(record)
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleDetectBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	algorithm, ok := parseAlgorithm(req.Algorithm)
	if !ok {
		writeBadRequest(w, "UNKNOWN_ALGORITHM", "unknown algorithm "+strconv.Quote(req.Algorithm))
		return
	}

	result, err := h.svc.DetectBatch(r.Context(), detectionsvc.BatchRequest{
		Vectors:   req.Vectors,
		Algorithm: algorithm,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	for _, item := range result.Items {
		if item.Record != nil {
			h.hub.Broadcast(item.Record)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter := detectionsvc.HistoryFilter{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "INVALID_LIMIT", "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "INVALID_OFFSET", "offset must be an integer")
			return
		}
		filter.Offset = n
	}
	filter.OnlyAnomalies = r.URL.Query().Get("anomalies_only") == "true"

	records, err := h.svc.History(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections": records,
		"count":      len(records),
	})
}

func (h *Handler) handleModelMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.ModelMetrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	detectionID, err := uuid.Parse(req.DetectionID)
	if err != nil {
		writeBadRequest(w, "INVALID_DETECTION_ID", "detection_id must be a UUID")
		return
	}

	if err := h.svc.SubmitFeedback(r.Context(), detectionID, req.IsAnomaly, req.Comment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	algorithm, ok := parseAlgorithm(req.Algorithm)
	if !ok {
		writeBadRequest(w, "UNKNOWN_ALGORITHM", "unknown algorithm "+strconv.Quote(req.Algorithm))
		return
	}

	if err := h.svc.Train(r.Context(), detectionsvc.TrainRequest{
		Samples:   req.Samples,
		Algorithm: algorithm,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "training started"})
}

func (h *Handler) handleTrainStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.TrainingStatus())
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ExportSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}
