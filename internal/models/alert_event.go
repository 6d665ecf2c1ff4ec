package models

import "time"

// AlertReason names the threshold an AlertEvent crossed.
type AlertReason string

const (
	ReasonHighTemperature AlertReason = "HIGH_TEMPERATURE"
	ReasonHighHumidity    AlertReason = "HIGH_HUMIDITY"
)

// AlertEvent is handed to the notifier and discarded afterwards.
type AlertEvent struct {
	DeviceID  string      `json:"deviceId"`
	SiteID    string      `json:"siteId"`
	Timestamp time.Time   `json:"ts"`
	Reason    AlertReason `json:"reason"`
	Value     float64     `json:"value"`
}
