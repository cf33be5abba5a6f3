// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/models"
)

// History fetches one page of the identity's alert history.
func (c *Client) History(ctx context.Context, identity string, q models.PageQuery) (models.Page, error) {
	const op = "gateway.History"
	if identity == "" {
		return models.Page{}, apperr.New(apperr.BadRequest, op, "identity required")
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(q.PageIndex))
	params.Set("size", strconv.Itoa(q.PageSize))
	params.Set("sort", q.SortParam())

	var env models.PageEnvelope
	err := c.do(ctx, request{
		backend: BackendAlert,
		op:      op,
		method:  http.MethodGet,
		url:     c.alertURL + "/history/" + url.PathEscape(identity) + "?" + params.Encode(),
		out:     &env,
	})
	if err != nil {
		return models.Page{}, err
	}
	env.Content = validAlerts(ctx, op, env.Content)
	return env.ToPage(q), nil
}

// Recent fetches the most recent alerts of the identity, newest first.
func (c *Client) Recent(ctx context.Context, identity string) ([]models.AlertEvent, error) {
	const op = "gateway.Recent"
	if identity == "" {
		return nil, apperr.New(apperr.BadRequest, op, "identity required")
	}

	var alerts []models.AlertEvent
	err := c.do(ctx, request{
		backend: BackendAlert,
		op:      op,
		method:  http.MethodGet,
		url:     c.alertURL + "/recent/" + url.PathEscape(identity),
		out:     &alerts,
	})
	if err != nil {
		return nil, err
	}
	return validAlerts(ctx, op, alerts), nil
}

// Acknowledge marks an alert as acknowledged on the server.
func (c *Client) Acknowledge(ctx context.Context, id string) error {
	const op = "gateway.Acknowledge"
	if id == "" {
		return apperr.New(apperr.BadRequest, op, "alert id required")
	}
	return c.do(ctx, request{
		backend: BackendAlert,
		op:      op,
		method:  http.MethodPatch,
		url:     c.alertURL + "/" + url.PathEscape(id) + "/ack",
	})
}

// validAlerts drops entries that fail AlertEvent.Validate.
func validAlerts(ctx context.Context, op string, in []models.AlertEvent) []models.AlertEvent {
	out := in[:0]
	for i := range in {
		if err := in[i].Validate(); err != nil {
			logging.Ctx(ctx).Warn().Str("component", "gateway").Str("op", op).Err(err).Msg("dropping invalid alert")
			continue
		}
		out = append(out, in[i])
	}
	return out
}
