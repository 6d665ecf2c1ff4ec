package repository

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"CapIot.telemetry/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfluxInsertBatchWritesLineProtocol(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path = string(raw), r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := NewInfluxDBRepository(srv.URL, "token", "org", "readings")
	defer repo.Close()

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stored, err := repo.InsertBatch(context.Background(), []models.StoredReading{
		reading("dev-1", "site-1", ts, 25, 60),
		reading("dev-2", "site-1", ts, 55, 95),
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/api/v2/write", path)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "readings,device_id=dev-1,record_id="+stored[0].ID+",site_id=site-1")
	assert.Contains(t, lines[0], "temperature=25")
	assert.Contains(t, lines[1], "humidity=95")
	assert.True(t, strings.HasSuffix(lines[0], " 1714557600000000000"))
}

func TestInfluxInsertBatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":"internal error","message":"engine down"}`)
	}))
	defer srv.Close()

	repo := NewInfluxDBRepository(srv.URL, "token", "org", "readings")
	defer repo.Close()

	_, err := repo.InsertBatch(context.Background(), []models.StoredReading{reading("dev-1", "site-1", time.Now(), 1, 1)})
	assert.True(t, models.IsStorageError(err))
}

func TestInfluxFindLatestParsesPivotedRow(t *testing.T) {
	csv := "#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,string,string,string,string,long,double,double\n" +
		"#group,false,false,false,false,false,false,false,false,false,false,false,false\n" +
		"#default,_result,,,,,,,,,,,\n" +
		",result,table,_start,_stop,_time,_measurement,device_id,record_id,site_id,created_at,humidity,temperature\n" +
		",,0,1678-01-01T00:00:00Z,2262-01-01T00:00:00Z,2024-05-01T10:00:00Z,readings,dev-1,rec-1,site-1,1714557600000000000,60,25.5\n" +
		"\n"

	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		query = string(raw)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		io.WriteString(w, csv)
	}))
	defer srv.Close()

	repo := NewInfluxDBRepository(srv.URL, "token", "org", "readings")
	defer repo.Close()

	latest, err := repo.FindLatestByDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, latest)

	assert.Equal(t, "rec-1", latest.ID)
	assert.Equal(t, "site-1", latest.SiteID)
	assert.Equal(t, 25.5, latest.Metrics.Temperature)
	assert.Equal(t, 60.0, latest.Metrics.Humidity)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), latest.Timestamp)
	assert.Contains(t, query, `r.device_id == \"dev-1\"`)
}

func TestLatestQueryEscapesDeviceID(t *testing.T) {
	q := latestQuery("readings", `evil") |> drop(`)
	assert.Contains(t, q, `r.device_id == "evil\") |> drop("`)
	assert.Contains(t, q, `sort(columns: ["_time"], desc: true)`)
	assert.Contains(t, q, "limit(n: 1)")
}

func TestAggregateQueryRangeIsInclusive(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	q := aggregateQuery("readings", "site-1", from, to)

	assert.Contains(t, q, `start: time(v: "2024-05-01T00:00:00Z")`)
	assert.Contains(t, q, `stop: time(v: "2024-05-02T00:00:00.000000001Z")`)
	assert.Contains(t, q, `r.site_id == "site-1"`)
	for _, name := range []string{"count", "mean", "max", "devices"} {
		assert.Contains(t, q, `yield(name: "`+name+`")`)
	}
}

func TestSummaryFromRows(t *testing.T) {
	s := summaryFromRows([]aggregateRow{
		{result: "count", field: "temperature", value: int64(2)},
		{result: "count", field: "humidity", value: int64(2)},
		{result: "mean", field: "temperature", value: 27.5},
		{result: "mean", field: "humidity", value: 65.0},
		{result: "max", field: "temperature", value: 30.0},
		{result: "max", field: "humidity", value: 70.0},
		{result: "devices", value: int64(1)},
	})

	assert.Equal(t, models.SiteSummary{
		Count:          2,
		AvgTemperature: 27.5,
		MaxTemperature: 30,
		AvgHumidity:    65,
		MaxHumidity:    70,
		UniqueDevices:  1,
	}, s)

	assert.Equal(t, models.SiteSummary{}, summaryFromRows(nil))
}
