package models

import "time"

// SiteSummary aggregates the readings of one site over [From, To].
// Every numeric field is zero when no reading matched.
type SiteSummary struct {
	SiteID         string    `json:"siteId"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Count          int64     `json:"count"`
	AvgTemperature float64   `json:"avgTemperature"`
	MaxTemperature float64   `json:"maxTemperature"`
	AvgHumidity    float64   `json:"avgHumidity"`
	MaxHumidity    float64   `json:"maxHumidity"`
	UniqueDevices  int64     `json:"uniqueDevices"`
}
