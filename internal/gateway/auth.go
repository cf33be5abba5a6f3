// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/models"
)

// Login exchanges credentials for an access token. 401 and 403 mean the
// credentials were refused and are reported as InvalidCredentials.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (string, error) {
	const op = "gateway.Login"

	var resp models.AuthResponse
	err := c.do(ctx, request{
		backend: BackendAuth,
		op:      op,
		method:  http.MethodPost,
		url:     c.authURL + "/login",
		body:    creds,
		out:     &resp,
		public:  true,
	})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.AuthExpired, apperr.Forbidden:
			return "", &apperr.Error{
				Kind:    apperr.InvalidCredentials,
				Op:      op,
				Status:  statusOf(err),
				Message: apperr.DefaultMessage(apperr.InvalidCredentials),
				Err:     err,
			}
		}
		return "", err
	}
	if resp.Token == "" {
		return "", apperr.New(apperr.ServerError, op, "login response carried no token")
	}
	return resp.Token, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg models.Registration) error {
	return c.do(ctx, request{
		backend: BackendAuth,
		op:      "gateway.Register",
		method:  http.MethodPost,
		url:     c.authURL + "/register",
		body:    reg,
		public:  true,
	})
}

// UpdateProfile sends a partial profile update and returns the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	var profile models.Profile
	err := c.do(ctx, request{
		backend: BackendAuth,
		op:      "gateway.UpdateProfile",
		method:  http.MethodPut,
		url:     c.authURL + "/update",
		body:    upd,
		out:     &profile,
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeviceConfig fetches the camera configuration of the current user. The
// result is never cached; every arming attempt fetches it again.
func (c *Client) DeviceConfig(ctx context.Context) (*models.DeviceConfig, error) {
	var cfg models.DeviceConfig
	err := c.do(ctx, request{
		backend: BackendAuth,
		op:      "gateway.DeviceConfig",
		method:  http.MethodGet,
		url:     c.authURL + "/device-config",
		out:     &cfg,
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func statusOf(err error) int {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
