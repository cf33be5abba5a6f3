// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package models

import "time"

// Credentials is the login payload.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=1,max=256"`
}

// Registration is the account creation payload.
type Registration struct {
	Username    string             `json:"username" validate:"required,min=3,max=64"`
	Password    string             `json:"password" validate:"required,min=6,max=256"`
	Email       string             `json:"email" validate:"required,email"`
	PhoneNumber string             `json:"phoneNumber" validate:"omitempty,max=32"`
	CameraURL   string             `json:"cameraUrl" validate:"omitempty,url"`
	Roles       []string           `json:"roles"`
	AlertTypes  []AlertChannelType `json:"alertTypes" validate:"dive,oneof=TELEGRAM EMAIL SMS"`
}

// ProfileUpdate is a partial profile change; empty fields are left untouched.
type ProfileUpdate struct {
	Email               string             `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber         string             `json:"phoneNumber,omitempty" validate:"omitempty,max=32"`
	CameraConnectionURL string             `json:"cameraConnectionUrl,omitempty" validate:"omitempty,url"`
	Password            string             `json:"password,omitempty" validate:"omitempty,min=6,max=256"`
	AlertPreferences    []AlertChannelType `json:"alertPreferences,omitempty" validate:"omitempty,dive,oneof=TELEGRAM EMAIL SMS"`
}

// Empty reports whether the update changes nothing.
func (u *ProfileUpdate) Empty() bool {
	return u.Email == "" && u.PhoneNumber == "" && u.CameraConnectionURL == "" &&
		u.Password == "" && len(u.AlertPreferences) == 0
}

// Profile is the user record returned by the auth backend.
type Profile struct {
	ID                  string             `json:"id"`
	Username            string             `json:"username"`
	Email               string             `json:"email,omitempty"`
	PhoneNumber         string             `json:"phoneNumber,omitempty"`
	CameraConnectionURL string             `json:"cameraConnectionUrl,omitempty"`
	Roles               []string           `json:"roles,omitempty"`
	AlertPreferences    []AlertChannelType `json:"alertPreferences,omitempty"`
}

// AuthResponse is the login response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// DeviceConfig is the camera configuration for the current user.
// It must be fetched fresh for every arming attempt.
type DeviceConfig struct {
	CameraURL string `json:"cameraUrl"`
}

// Configured reports whether a camera URL is present.
func (d *DeviceConfig) Configured() bool {
	return d != nil && d.CameraURL != ""
}

// SessionInfo is a read-only snapshot of the authenticated session.
// The token is deliberately absent.
type SessionInfo struct {
	Identity    string    `json:"identity"`
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}
