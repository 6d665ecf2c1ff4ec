package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/models"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurement = "readings"

	// Flux range bounds covering every timestamp InfluxDB can store.
	fluxMinTime = "1678-01-01T00:00:00Z"
	fluxMaxTime = "2262-01-01T00:00:00Z"
)

// InfluxDBRepository stores readings as points of the "readings"
// measurement. record_id is a tag so that two readings sharing device and
// timestamp stay distinct points instead of overwriting each other.
type InfluxDBRepository struct {
	client influxdb2.Client
	org    string
	bucket string
	log    *slog.Logger
}

// NewInfluxDBRepository creates a new InfluxDBRepository.
func NewInfluxDBRepository(url, token, org, bucket string) *InfluxDBRepository {
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(10)
	return &InfluxDBRepository{
		client: influxdb2.NewClientWithOptions(url, token, opts),
		org:    org,
		bucket: bucket,
		log:    logging.Component("repository").With("driver", "influx"),
	}
}

// Ping checks the server health.
func (r *InfluxDBRepository) Ping(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return models.NewStorageError("ping", fmt.Errorf("failed to connect to InfluxDB: %w", err))
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return models.NewStorageError("ping", fmt.Errorf("InfluxDB health check failed: %s", msg))
	}
	r.log.Info("connected to InfluxDB")
	return nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (r *InfluxDBRepository) EnsureBucket(ctx context.Context) error {
	exists, err := r.bucketExists(ctx, r.bucket)
	if err != nil {
		return models.NewStorageError("ensure bucket", err)
	}
	if exists {
		return nil
	}

	org, err := r.client.OrganizationsAPI().FindOrganizationByName(ctx, r.org)
	if err != nil {
		return models.NewStorageError("ensure bucket", fmt.Errorf("finding organization '%s': %w", r.org, err))
	}
	if org == nil {
		return models.NewStorageError("ensure bucket", fmt.Errorf("organization '%s' not found", r.org))
	}
	if _, err := r.client.BucketsAPI().CreateBucketWithName(ctx, org, r.bucket); err != nil {
		return models.NewStorageError("ensure bucket", fmt.Errorf("creating bucket '%s': %w", r.bucket, err))
	}
	r.log.Info("bucket created", "bucket", r.bucket)
	return nil
}

func (r *InfluxDBRepository) bucketExists(ctx context.Context, name string) (bool, error) {
	_, err := r.client.BucketsAPI().FindBucketByName(ctx, name)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("error checking bucket existence: %w", err)
	}
	return true, nil
}

// InsertBatch writes all records in a single write request.
func (r *InfluxDBRepository) InsertBatch(ctx context.Context, records []models.StoredReading) ([]models.StoredReading, error) {
	stored := assignIdentity(records, time.Now().UTC())
	points := make([]*write.Point, len(stored))
	for i, rec := range stored {
		points[i] = toPoint(rec)
	}

	writeAPI := r.client.WriteAPIBlocking(r.org, r.bucket)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		return nil, models.NewStorageError("insert", fmt.Errorf("error writing to InfluxDB: %w", err))
	}
	r.log.Debug("points written", "bucket", r.bucket, "count", len(points))
	return stored, nil
}

func toPoint(rec models.StoredReading) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"device_id": rec.DeviceID,
			"site_id":   rec.SiteID,
			"record_id": rec.ID,
		},
		map[string]interface{}{
			"temperature": rec.Metrics.Temperature,
			"humidity":    rec.Metrics.Humidity,
			"created_at":  rec.CreatedAt.UnixNano(),
		},
		rec.Timestamp,
	)
}

// FindLatestByDevice returns the newest reading of deviceID by timestamp.
func (r *InfluxDBRepository) FindLatestByDevice(ctx context.Context, deviceID string) (*models.StoredReading, error) {
	result, err := r.client.QueryAPI(r.org).Query(ctx, latestQuery(r.bucket, deviceID))
	if err != nil {
		return nil, models.NewStorageError("find latest", fmt.Errorf("error querying InfluxDB: %w", err))
	}
	defer result.Close()

	var latest *models.StoredReading
	for result.Next() {
		rec := readingFromRecord(result.Record())
		latest = &rec
	}
	if result.Err() != nil {
		return nil, models.NewStorageError("find latest", fmt.Errorf("query error: %w", result.Err()))
	}
	return latest, nil
}

// AggregateBySiteAndRange computes the site summary server-side.
func (r *InfluxDBRepository) AggregateBySiteAndRange(ctx context.Context, siteID string, from, to time.Time) (models.SiteSummary, error) {
	result, err := r.client.QueryAPI(r.org).Query(ctx, aggregateQuery(r.bucket, siteID, from, to))
	if err != nil {
		return models.SiteSummary{}, models.NewStorageError("aggregate", fmt.Errorf("error querying InfluxDB: %w", err))
	}
	defer result.Close()

	var rows []aggregateRow
	for result.Next() {
		rec := result.Record()
		rows = append(rows, aggregateRow{result: rec.Result(), field: rec.Field(), value: rec.Value()})
	}
	if result.Err() != nil {
		return models.SiteSummary{}, models.NewStorageError("aggregate", fmt.Errorf("query error: %w", result.Err()))
	}

	summary := summaryFromRows(rows)
	summary.SiteID, summary.From, summary.To = siteID, from, to
	return summary, nil
}

func (r *InfluxDBRepository) Close() error {
	r.client.Close()
	return nil
}

func latestQuery(bucket, deviceID string) string {
	return fmt.Sprintf(`from(bucket: %s)
	|> range(start: %s, stop: %s)
	|> filter(fn: (r) => r._measurement == %s and r.device_id == %s)
	|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
	|> group()
	|> sort(columns: ["_time"], desc: true)
	|> limit(n: 1)`,
		fluxString(bucket), fluxMinTime, fluxMaxTime, fluxString(measurement), fluxString(deviceID))
}

// aggregateQuery yields four named results: count, mean and max per field,
// plus the distinct device count. The stop bound is exclusive in Flux, so it
// is pushed one nanosecond past to.
func aggregateQuery(bucket, siteID string, from, to time.Time) string {
	return fmt.Sprintf(`data = from(bucket: %s)
	|> range(start: time(v: %s), stop: time(v: %s))
	|> filter(fn: (r) => r._measurement == %s and r.site_id == %s)
	|> filter(fn: (r) => r._field == "temperature" or r._field == "humidity")
	|> group(columns: ["_field"])

data |> count() |> yield(name: "count")
data |> mean() |> yield(name: "mean")
data |> max() |> yield(name: "max")
data
	|> filter(fn: (r) => r._field == "temperature")
	|> group()
	|> distinct(column: "device_id")
	|> count()
	|> yield(name: "devices")`,
		fluxString(bucket),
		fluxString(from.UTC().Format(time.RFC3339Nano)),
		fluxString(to.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano)),
		fluxString(measurement), fluxString(siteID))
}

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}

func readingFromRecord(rec *query.FluxRecord) models.StoredReading {
	out := models.StoredReading{Timestamp: rec.Time().UTC()}
	out.ID, _ = rec.ValueByKey("record_id").(string)
	out.DeviceID, _ = rec.ValueByKey("device_id").(string)
	out.SiteID, _ = rec.ValueByKey("site_id").(string)
	out.Metrics.Temperature = toFloat(rec.ValueByKey("temperature"))
	out.Metrics.Humidity = toFloat(rec.ValueByKey("humidity"))
	if nanos, ok := rec.ValueByKey("created_at").(int64); ok {
		out.CreatedAt = time.Unix(0, nanos).UTC()
	}
	return out
}

type aggregateRow struct {
	result string
	field  string
	value  interface{}
}

func summaryFromRows(rows []aggregateRow) models.SiteSummary {
	var s models.SiteSummary
	for _, row := range rows {
		switch row.result {
		case "count":
			if row.field == "temperature" {
				s.Count = toInt(row.value)
			}
		case "mean":
			switch row.field {
			case "temperature":
				s.AvgTemperature = toFloat(row.value)
			case "humidity":
				s.AvgHumidity = toFloat(row.value)
			}
		case "max":
			switch row.field {
			case "temperature":
				s.MaxTemperature = toFloat(row.value)
			case "humidity":
				s.MaxHumidity = toFloat(row.value)
			}
		case "devices":
			s.UniqueDevices = toInt(row.value)
		}
	}
	return s
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}

func toInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

var _ Repository = (*InfluxDBRepository)(nil)
