// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/safevision/internal/apperr"
)

type toggleOn struct {
	UserID    string `json:"userId"`
	CameraURL string `json:"cameraUrl"`
}

type toggleOff struct {
	UserID string `json:"userId"`
}

// ActivateDevice asks the agent to start detection for userID on cameraURL.
func (c *Client) ActivateDevice(ctx context.Context, userID, cameraURL string) error {
	const op = "gateway.ActivateDevice"
	if err := c.agentLimiter.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, request{
		backend: BackendAgent,
		op:      op,
		method:  http.MethodPost,
		url:     c.agentURL + "/toggle/on",
		body:    toggleOn{UserID: userID, CameraURL: cameraURL},
	})
}

// DeactivateDevice asks the agent to stop detection for userID.
func (c *Client) DeactivateDevice(ctx context.Context, userID string) error {
	const op = "gateway.DeactivateDevice"
	if err := c.agentLimiter.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, request{
		backend: BackendAgent,
		op:      op,
		method:  http.MethodPost,
		url:     c.agentURL + "/toggle/off",
		body:    toggleOff{UserID: userID},
	})
}

// StreamURL returns the live video reference for identity. The timestamp
// parameter defeats caching so a reload always opens a new stream.
func (c *Client) StreamURL(identity string, at time.Time) string {
	return c.agentURL + "/video/" + url.PathEscape(identity) + "?t=" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ProbeStream checks that the stream at streamURL answers with a 2xx status.
// Only the response headers are read. Probes bypass the circuit breaker so a
// dead stream never blocks device commands.
func (c *Client) ProbeStream(ctx context.Context, streamURL string) error {
	const op = "gateway.ProbeStream"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, op, err)
	}
	req.Header.Set("X-Request-ID", requestID(ctx))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &apperr.Error{Kind: apperr.Unreachable, Op: op, Err: err}
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apperr.Error{
			Kind:    apperr.Unreachable,
			Op:      op,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("stream answered %d", resp.StatusCode),
		}
	}
	return nil
}
