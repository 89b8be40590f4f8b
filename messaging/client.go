// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/deskline/deskline/lib/netutil"
	"github.com/deskline/deskline/lib/ref"
)

// ErrNoCredential is returned by History when the credential cannot
// authenticate a request.
var ErrNoCredential = errors.New("messaging: credential has no usable token")

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the helpdesk server root (e.g., "http://localhost:8420").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client fetches message history over the helpdesk REST API. It is
// safe for concurrent use; credentials are passed per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a history client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("messaging: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HistoryPath returns the REST path serving room's history.
func HistoryPath(room ref.RoomID) (string, error) {
	switch room.Kind() {
	case ref.KindTicket:
		return "/api/tickets/" + room.ID() + "/messages", nil
	case ref.KindForum:
		return "/api/forum/rooms/" + room.ID() + "/messages", nil
	}
	return "", fmt.Errorf("messaging: room %q has no history endpoint", room)
}

// History fetches one page of room's history. Messages without a
// room are attributed to room; a message without an id is a protocol
// violation and fails the whole page.
func (c *Client) History(ctx context.Context, credential *Credential, room ref.RoomID, options HistoryOptions) ([]Message, error) {
	page, err := c.HistoryPage(ctx, credential, room, options)
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// HistoryPage is History returning the pagination cursor as well.
func (c *Client) HistoryPage(ctx context.Context, credential *Credential, room ref.RoomID, options HistoryOptions) (*HistoryResponse, error) {
	if !credential.Usable() {
		return nil, ErrNoCredential
	}
	path, err := HistoryPath(room)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if options.Before != "" {
		query.Set("before", options.Before)
	}
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: creating history request: %w", err)
	}
	token, err := credential.Token.String()
	if err != nil {
		return nil, fmt.Errorf("messaging: reading token: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Accept-Encoding", "gzip")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: history request for %s failed: %w", room, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, parseAPIError(response)
	}

	var page HistoryResponse
	if err := netutil.DecodeJSON(response, &page); err != nil {
		return nil, fmt.Errorf("messaging: history for %s: %w", room, err)
	}
	for i := range page.Messages {
		if page.Messages[i].ID == "" {
			return nil, fmt.Errorf("messaging: history for %s: message %d has no id", room, i)
		}
		if page.Messages[i].RoomID.IsZero() {
			page.Messages[i].RoomID = room
		}
	}

	c.logger.Debug("fetched history",
		"room_id", room.String(),
		"count", len(page.Messages),
	)
	return &page, nil
}

func parseAPIError(response *http.Response) error {
	body, readErr := netutil.ReadBody(response)
	apiErr := &APIError{StatusCode: response.StatusCode}
	if readErr == nil && len(body) > 0 {
		if json.Unmarshal(body, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = codeForStatus(response.StatusCode)
			apiErr.Message = strings.TrimSpace(string(body))
		}
	} else {
		apiErr.Code = codeForStatus(response.StatusCode)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(response.StatusCode)
	}
	return apiErr
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusBadRequest:
		return ErrCodeInvalid
	}
	return ErrCodeInternal
}
