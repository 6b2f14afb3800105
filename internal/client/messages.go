// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeranaias/evalchat/internal/model"
)

// listEnvelope is the response wrapper of the listing endpoint.
type listEnvelope struct {
	StatusCode int                   `json:"status_code"`
	Message    string                `json:"message"`
	Data       []model.ServerMessage `json:"data"`
	Total      *int                  `json:"total,omitempty"`
}

// MessagePage is one page of a session's history.
type MessagePage struct {
	Messages []model.ServerMessage
	Page     int
	// Total is the server's count of all messages, when it reports one.
	Total    int
	HasTotal bool
}

// =============================================================================
// HISTORY LISTING
// =============================================================================

// ListMessages fetches one page (1-based) of a session's messages in
// server order.
func (c *Client) ListMessages(ctx context.Context, sessionID int64, credential string, page, pageSize int) (*MessagePage, error) {
	if err := validate(sessionID, credential); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = c.config.PageSize
	}

	start := time.Now()
	result, err := c.listMessages(ctx, sessionID, credential, page, pageSize)
	c.logRequest("ListMessages", sessionID, credential, start, err)
	return result, err
}

func (c *Client) listMessages(ctx context.Context, sessionID int64, credential string, page, pageSize int) (*MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	req, err := c.newRequest(ctx, http.MethodGet, c.messagesURL(sessionID)+"?"+q.Encode(), credential, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var env listEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode message list", Cause: err}
	}

	result := &MessagePage{Messages: env.Data, Page: page}
	if env.Total != nil {
		result.Total = *env.Total
		result.HasTotal = true
	}
	return result, nil
}

// ListAllMessages reads a session's full history, page by page, until a
// short page, the reported total, or the configured page limit. It returns
// the client representation in server order.
func (c *Client) ListAllMessages(ctx context.Context, sessionID int64, credential string) ([]model.Message, error) {
	var all []model.ServerMessage
	pageSize := c.config.PageSize

	for page := 1; page <= c.config.MaxPages; page++ {
		result, err := c.ListMessages(ctx, sessionID, credential, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Messages...)

		if len(result.Messages) < pageSize {
			break
		}
		if result.HasTotal && len(all) >= result.Total {
			break
		}
		if page == c.config.MaxPages {
			c.logger.Warn().
				Int64("session_id", sessionID).
				Int("max_pages", c.config.MaxPages).
				Msg("history truncated at page limit")
		}
	}

	return model.ToMessages(all), nil
}
