// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// createdAtLayouts are tried in order; zone-less values are taken as UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Severity is the urgency of an alert as assigned by the detection pipeline.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Geolocation is the optional physical location attached to an alert.
type Geolocation struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// AlertEvent is a single security alert.
//
// The JSON layout follows the alert backend (alertType, cameraId, snapshotUrl
// and flat latitude/longitude/address). Use Geolocation() for the grouped view.
// Everything except Acknowledged is immutable once received.
type AlertEvent struct {
	ID           string    `json:"id"`
	Type         string    `json:"alertType"`
	Description  string    `json:"description"`
	Severity     Severity  `json:"severity"`
	DeviceID     string    `json:"cameraId"`
	CreatedAt    time.Time `json:"createdAt"`
	Acknowledged bool      `json:"acknowledged"`
	EvidenceRef  string    `json:"snapshotUrl,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Address      string    `json:"address,omitempty"`
}

// Geolocation returns the alert location, or nil when the alert has no coordinates.
func (a *AlertEvent) Geolocation() *Geolocation {
	if a.Latitude == nil || a.Longitude == nil {
		return nil
	}
	return &Geolocation{Lat: *a.Latitude, Lng: *a.Longitude, Address: a.Address}
}

// alertWire mirrors AlertEvent with createdAt left as text.
type alertWire struct {
	ID           string   `json:"id"`
	Type         string   `json:"alertType"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	DeviceID     string   `json:"cameraId"`
	CreatedAt    string   `json:"createdAt"`
	Acknowledged bool     `json:"acknowledged"`
	EvidenceRef  string   `json:"snapshotUrl"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Address      string   `json:"address"`
}

// UnmarshalJSON accepts createdAt with or without a zone offset.
func (a *AlertEvent) UnmarshalJSON(b []byte) error {
	var w alertWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = AlertEvent{
		ID:           w.ID,
		Type:         w.Type,
		Description:  w.Description,
		Severity:     w.Severity,
		DeviceID:     w.DeviceID,
		Acknowledged: w.Acknowledged,
		EvidenceRef:  w.EvidenceRef,
		Latitude:     w.Latitude,
		Longitude:    w.Longitude,
		Address:      w.Address,
	}
	if w.CreatedAt == "" {
		return nil
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, w.CreatedAt); err == nil {
			a.CreatedAt = t
			return nil
		}
	}
	return fmt.Errorf("alert: bad createdAt %q", w.CreatedAt)
}

// Validate checks the fields a pushed alert must carry to be usable.
func (a *AlertEvent) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("alert: missing id")
	}
	if a.Severity != "" && !a.Severity.Valid() {
		return fmt.Errorf("alert %s: unknown severity %q", a.ID, a.Severity)
	}
	return nil
}

// AlertChannelType is an out-of-band channel the backend notifies through.
type AlertChannelType string

const (
	AlertChannelTelegram AlertChannelType = "TELEGRAM"
	AlertChannelEmail    AlertChannelType = "EMAIL"
	AlertChannelSMS      AlertChannelType = "SMS"
)
