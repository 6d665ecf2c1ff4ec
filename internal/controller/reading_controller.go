package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/models"
	"CapIot.telemetry/internal/service"
	"CapIot.telemetry/internal/utils"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// Accepted metric ranges.
const (
	minTemperature = -100.0
	maxTemperature = 150.0
	minHumidity    = 0.0
	maxHumidity    = 100.0
)

// ReadingService is what the controller needs from the ingest service.
type ReadingService interface {
	Ingest(ctx context.Context, readings []models.Reading) (service.IngestResult, error)
	Latest(ctx context.Context, deviceID string) (*models.StoredReading, error)
	Summarize(ctx context.Context, siteID string, from, to time.Time) (models.SiteSummary, error)
}

// DataController handles HTTP requests for readings.
type DataController struct {
	service ReadingService
	log     *slog.Logger
}

// NewDataController creates a new DataController.
func NewDataController(svc ReadingService) *DataController {
	return &DataController{
		service: svc,
		log:     logging.Component("http"),
	}
}

// FieldError describes one rejected field of an ingest request.
type FieldError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// HandleIngest accepts a single reading, a bare array or a
// {"readings": [...]} wrapper.
func (c *DataController) HandleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeBadRequest, fmt.Sprintf("error reading request body: %v", err), nil, http.StatusBadRequest))
		return
	}
	defer r.Body.Close()

	readings, err := decodeReadings(body)
	if err != nil {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeInvalidFormat, err.Error(), nil, http.StatusBadRequest))
		return
	}
	if problems := validateReadings(readings); len(problems) > 0 {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeValidationFailed, "one or more readings are invalid", problems, http.StatusBadRequest))
		return
	}

	res, err := c.service.Ingest(r.Context(), readings)
	if err != nil {
		c.respondWithServiceError(w, "ingest", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, res)
}

// HandleLatest returns the most recent reading of a device.
func (c *DataController) HandleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(mux.Vars(r)["deviceId"])
	if deviceID == "" {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeMissingParameter, "deviceId is required", nil, http.StatusBadRequest))
		return
	}

	reading, err := c.service.Latest(r.Context(), deviceID)
	if err != nil {
		c.respondWithServiceError(w, "latest", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, reading)
}

// HandleSummary returns aggregate statistics of a site over [from, to].
func (c *DataController) HandleSummary(w http.ResponseWriter, r *http.Request) {
	siteID := strings.TrimSpace(mux.Vars(r)["siteId"])
	if siteID == "" {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeMissingParameter, "siteId is required", nil, http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	from, ok := c.timeParam(w, query.Get("from"), "from")
	if !ok {
		return
	}
	to, ok := c.timeParam(w, query.Get("to"), "to")
	if !ok {
		return
	}
	if to.Before(from) {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeBadRequest, "from must not be after to", nil, http.StatusBadRequest))
		return
	}

	summary, err := c.service.Summarize(r.Context(), siteID, from, to)
	if err != nil {
		c.respondWithServiceError(w, "summary", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, summary)
}

func (c *DataController) timeParam(w http.ResponseWriter, raw, name string) (time.Time, bool) {
	if raw == "" {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeMissingParameter, name+" is required", nil, http.StatusBadRequest))
		return time.Time{}, false
	}
	t, err := models.ParseTimestamp(raw)
	if err != nil {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeInvalidFormat, name+" must be an RFC3339 timestamp", nil, http.StatusBadRequest))
		return time.Time{}, false
	}
	return t, true
}

func (c *DataController) respondWithServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidReading), errors.Is(err, service.ErrInvalidRange):
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeValidationFailed, err.Error(), nil, http.StatusBadRequest))
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeNotFound, "no reading found", nil, http.StatusNotFound))
	case errors.Is(err, models.ErrUnavailable):
		c.log.Warn("backing store unavailable", "op", op, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeServiceUnavailable, "storage temporarily unavailable", nil, http.StatusServiceUnavailable))
	case models.IsStorageError(err):
		c.log.Error("storage failure", "op", op, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeStorageFailed, "failed to store readings", nil, http.StatusInternalServerError))
	default:
		c.log.Error("request failed", "op", op, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeInternalServerError, "internal error", nil, http.StatusInternalServerError))
	}
}

// decodeReadings normalizes the three accepted body shapes into one slice.
func decodeReadings(body []byte) ([]models.Reading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("request body is empty")
	}

	switch trimmed[0] {
	case '[':
		var readings []models.Reading
		if err := json.Unmarshal(trimmed, &readings); err != nil {
			return nil, fmt.Errorf("error unmarshalling JSON: %w", err)
		}
		return readings, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, fmt.Errorf("error unmarshalling JSON: %w", err)
		}
		if raw, ok := probe["readings"]; ok {
			var readings []models.Reading
			if err := json.Unmarshal(raw, &readings); err != nil {
				return nil, fmt.Errorf("error unmarshalling readings: %w", err)
			}
			return readings, nil
		}
		var reading models.Reading
		if err := json.Unmarshal(trimmed, &reading); err != nil {
			return nil, fmt.Errorf("error unmarshalling JSON: %w", err)
		}
		return []models.Reading{reading}, nil
	default:
		return nil, errors.New("request body must be a JSON object or array")
	}
}

func validateReadings(readings []models.Reading) []FieldError {
	if len(readings) == 0 {
		return []FieldError{{Index: 0, Field: "readings", Message: "at least one reading is required"}}
	}
	var problems []FieldError
	for i, r := range readings {
		if strings.TrimSpace(r.DeviceID) == "" {
			problems = append(problems, FieldError{i, "deviceId", "is required"})
		}
		if strings.TrimSpace(r.SiteID) == "" {
			problems = append(problems, FieldError{i, "siteId", "is required"})
		}
		if _, err := models.ParseTimestamp(r.Timestamp); err != nil {
			problems = append(problems, FieldError{i, "timestamp", "must be an RFC3339 timestamp"})
		}
		if t := r.Metrics.Temperature; t < minTemperature || t > maxTemperature {
			problems = append(problems, FieldError{i, "metrics.temperature", fmt.Sprintf("must be within [%g, %g]", minTemperature, maxTemperature)})
		}
		if h := r.Metrics.Humidity; h < minHumidity || h > maxHumidity {
			problems = append(problems, FieldError{i, "metrics.humidity", fmt.Sprintf("must be within [%g, %g]", minHumidity, maxHumidity)})
		}
	}
	return problems
}
