package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CapIot.telemetry/internal/models"
	"CapIot.telemetry/internal/service"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	ingested  []models.Reading
	ingestErr error
	latest    *models.StoredReading
	latestErr error
	summary   models.SiteSummary
	sumErr    error
	from, to  time.Time
}

func (s *stubService) Ingest(_ context.Context, readings []models.Reading) (service.IngestResult, error) {
	if s.ingestErr != nil {
		return service.IngestResult{}, s.ingestErr
	}
	s.ingested = append(s.ingested, readings...)
	return service.IngestResult{Accepted: len(readings)}, nil
}

func (s *stubService) Latest(_ context.Context, _ string) (*models.StoredReading, error) {
	return s.latest, s.latestErr
}

func (s *stubService) Summarize(_ context.Context, siteID string, from, to time.Time) (models.SiteSummary, error) {
	s.from, s.to = from, to
	s.summary.SiteID = siteID
	return s.summary, s.sumErr
}

const validReading = `{"deviceId":"d1","siteId":"s1","timestamp":"2024-05-01T10:00:00Z","metrics":{"temperature":21.5,"humidity":40}}`

func postReadings(t *testing.T, c *DataController, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c.HandleIngest(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var apiErr models.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHandleIngestAcceptsAllShapes(t *testing.T) {
	cases := map[string]struct {
		body string
		want int
	}{
		"single":  {validReading, 1},
		"array":   {"[" + validReading + "," + validReading + "]", 2},
		"wrapper": {`{"readings":[` + validReading + `]}`, 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{}
			rec := postReadings(t, NewDataController(svc), tc.body)

			require.Equal(t, http.StatusCreated, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, fmt.Sprintf(`{"accepted":%d}`, tc.want), rec.Body.String())
			assert.Len(t, svc.ingested, tc.want)
		})
	}
}

func TestHandleIngestValidation(t *testing.T) {
	cases := map[string]string{
		"missing device":   `{"siteId":"s1","timestamp":"2024-05-01T10:00:00Z","metrics":{"temperature":1,"humidity":1}}`,
		"bad timestamp":    `{"deviceId":"d1","siteId":"s1","timestamp":"05/01/2024","metrics":{"temperature":1,"humidity":1}}`,
		"hot":              `{"deviceId":"d1","siteId":"s1","timestamp":"2024-05-01T10:00:00Z","metrics":{"temperature":151,"humidity":1}}`,
		"humidity too low": `{"deviceId":"d1","siteId":"s1","timestamp":"2024-05-01T10:00:00Z","metrics":{"temperature":1,"humidity":-1}}`,
		"empty array":      `[]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{}
			rec := postReadings(t, NewDataController(svc), body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, models.ErrorCodeValidationFailed, decodeAPIError(t, rec).Code)
			assert.Empty(t, svc.ingested)
		})
	}
}

func TestHandleIngestMalformedBody(t *testing.T) {
	for _, body := range []string{"", "42", `{"deviceId":`, `{"readings":{}}`} {
		rec := postReadings(t, NewDataController(&stubService{}), body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, models.ErrorCodeInvalidFormat, decodeAPIError(t, rec).Code)
	}
}

func TestHandleIngestStorageFailure(t *testing.T) {
	svc := &stubService{ingestErr: models.NewStorageError("insert", errors.New("timeout"))}
	rec := postReadings(t, NewDataController(svc), validReading)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	apiErr := decodeAPIError(t, rec)
	assert.Equal(t, models.ErrorCodeStorageFailed, apiErr.Code)
	assert.NotContains(t, apiErr.Message, "timeout")
}

func getLatest(c *DataController, deviceID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/devices/"+deviceID+"/latest", nil)
	req = mux.SetURLVars(req, map[string]string{"deviceId": deviceID})
	rec := httptest.NewRecorder()
	c.HandleLatest(rec, req)
	return rec
}

func TestHandleLatest(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubService{latest: &models.StoredReading{ID: "r1", DeviceID: "d1", SiteID: "s1", Timestamp: ts}}
	rec := getLatest(NewDataController(svc), "d1")

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.StoredReading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.ID)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestHandleLatestErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   models.ErrorCode
	}{
		"not found":   {models.ErrNotFound, http.StatusNotFound, models.ErrorCodeNotFound},
		"unavailable": {models.Unavailable(errors.New("down")), http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable},
		"unexpected":  {errors.New("boom"), http.StatusInternalServerError, models.ErrorCodeInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := getLatest(NewDataController(&stubService{latestErr: tc.err}), "d1")
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeAPIError(t, rec).Code)
		})
	}
}

func getSummary(c *DataController, siteID, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sites/"+siteID+"/summary?"+query, nil)
	req = mux.SetURLVars(req, map[string]string{"siteId": siteID})
	rec := httptest.NewRecorder()
	c.HandleSummary(rec, req)
	return rec
}

func TestHandleSummary(t *testing.T) {
	svc := &stubService{summary: models.SiteSummary{Count: 2, AvgTemperature: 27.5, UniqueDevices: 2}}
	rec := getSummary(NewDataController(svc), "s1", "from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00%2B02:00")

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.SiteSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "s1", got.SiteID)
	assert.Equal(t, int64(2), got.Count)
	assert.Equal(t, 27.5, got.AvgTemperature)
	assert.Equal(t, time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC), svc.to)
}

func TestHandleSummaryBadParams(t *testing.T) {
	for _, query := range []string{
		"",
		"from=2024-05-01T00:00:00Z",
		"from=yesterday&to=2024-05-01T00:00:00Z",
		"from=2024-05-02T00:00:00Z&to=2024-05-01T00:00:00Z",
	} {
		rec := getSummary(NewDataController(&stubService{}), "s1", query)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %q", query)
	}
}

func TestHandleSummaryUnavailable(t *testing.T) {
	svc := &stubService{sumErr: models.Unavailable(errors.New("down"))}
	rec := getSummary(NewDataController(svc), "s1", "from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
