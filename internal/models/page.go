// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package models

import (
	"fmt"
	"strings"
)

// SortDirection is the ordering direction of a history query.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortKey is a history field the backend can sort by.
type SortKey string

const (
	SortByCreatedAt SortKey = "createdAt"
	SortBySeverity  SortKey = "severity"
	SortByType      SortKey = "alertType"
	SortByDevice    SortKey = "cameraId"
	SortByAcked     SortKey = "acknowledged"
)

// PageQuery selects one window of the alert history.
type PageQuery struct {
	PageIndex int           `json:"page" validate:"gte=0"`
	PageSize  int           `json:"size" validate:"gte=1,lte=200"`
	SortKey   SortKey       `json:"sort" validate:"required"`
	Direction SortDirection `json:"direction" validate:"oneof=asc desc"`
}

// DefaultPageQuery is the initial history view: newest first, ten per page.
func DefaultPageQuery() PageQuery {
	return PageQuery{PageIndex: 0, PageSize: 10, SortKey: SortByCreatedAt, Direction: SortDesc}
}

// SortParam renders the backend "sort=field,dir" parameter.
func (q PageQuery) SortParam() string {
	dir := q.Direction
	if dir == "" {
		dir = SortDesc
	}
	return fmt.Sprintf("%s,%s", q.SortKey, strings.ToLower(string(dir)))
}

// SameSort reports whether q and other order results identically.
func (q PageQuery) SameSort(other PageQuery) bool {
	return q.SortKey == other.SortKey && q.Direction == other.Direction
}

// Page is one server-provided window of alerts. len(Items) <= PageSize.
type Page struct {
	Items      []AlertEvent `json:"items"`
	TotalCount int          `json:"total_count"`
	PageIndex  int          `json:"page_index"`
	PageSize   int          `json:"page_size"`
}

// PageEnvelope is the alert backend's paginated response. Newer backends nest
// the totals under "page"; older ones return them flat.
type PageEnvelope struct {
	Content []AlertEvent `json:"content"`
	Page    *struct {
		TotalElements int `json:"totalElements"`
		TotalPages    int `json:"totalPages"`
		Size          int `json:"size"`
		Number        int `json:"number"`
	} `json:"page,omitempty"`
	TotalElements *int `json:"totalElements,omitempty"`
	Size          *int `json:"size,omitempty"`
	Number        *int `json:"number,omitempty"`
}

// ToPage converts the envelope, preferring the nested totals.
// The requested query fills in whatever the server omitted.
func (e *PageEnvelope) ToPage(q PageQuery) Page {
	p := Page{Items: e.Content, PageIndex: q.PageIndex, PageSize: q.PageSize}
	if p.Items == nil {
		p.Items = []AlertEvent{}
	}
	switch {
	case e.Page != nil:
		p.TotalCount = e.Page.TotalElements
		if e.Page.Size > 0 {
			p.PageSize = e.Page.Size
		}
		p.PageIndex = e.Page.Number
	case e.TotalElements != nil:
		p.TotalCount = *e.TotalElements
		if e.Size != nil && *e.Size > 0 {
			p.PageSize = *e.Size
		}
		if e.Number != nil {
			p.PageIndex = *e.Number
		}
	default:
		p.TotalCount = len(p.Items)
	}
	if p.PageSize > 0 && len(p.Items) > p.PageSize {
		p.Items = p.Items[:p.PageSize]
	}
	return p
}
