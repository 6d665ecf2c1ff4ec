package models

import "time"

// Metrics holds the sensor values carried by a reading.
type Metrics struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Reading is one sample as accepted from a device. Timestamp is kept in its
// wire form until the ingest service maps it to a StoredReading.
type Reading struct {
	DeviceID  string  `json:"deviceId"`
	SiteID    string  `json:"siteId"`
	Timestamp string  `json:"timestamp"`
	Metrics   Metrics `json:"metrics"`
}

// StoredReading is the canonical, durable representation of a reading.
type StoredReading struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	SiteID    string    `json:"siteId"`
	Timestamp time.Time `json:"timestamp"`
	Metrics   Metrics   `json:"metrics"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
