// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
)

// defaultPageSize is the history page size when the request names
// none.
const defaultPageSize = 50

// handleHistory serves one page of a room's history, newest last.
// ?before=<id> pages backwards from that message; ?limit=<n> sets the
// page size.
func (s *Server) handleHistory(parse func(string) (ref.RoomID, error)) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		token, ok := strings.CutPrefix(request.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.writeAPIError(writer, request, http.StatusUnauthorized, messaging.ErrCodeUnauthorized, "missing bearer token")
			return
		}
		if _, ok := s.userForToken(token); !ok {
			s.writeAPIError(writer, request, http.StatusUnauthorized, messaging.ErrCodeUnauthorized, "invalid bearer token")
			return
		}

		id, err := parse(request.PathValue("id"))
		if err != nil {
			s.writeAPIError(writer, request, http.StatusBadRequest, messaging.ErrCodeInvalid, err.Error())
			return
		}
		limit := defaultPageSize
		if raw := request.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				s.writeAPIError(writer, request, http.StatusBadRequest, messaging.ErrCodeInvalid, fmt.Sprintf("invalid limit %q", raw))
				return
			}
		}
		limit = min(limit, s.config.MaxPageSize)

		page, err := s.historyPage(id, request.URL.Query().Get("before"), limit)
		switch {
		case errors.Is(err, ErrUnknownRoom):
			s.writeAPIError(writer, request, http.StatusNotFound, messaging.ErrCodeNotFound, err.Error())
			return
		case err != nil:
			s.writeAPIError(writer, request, http.StatusBadRequest, messaging.ErrCodeInvalid, err.Error())
			return
		}
		s.writeJSON(writer, request, http.StatusOK, page)
	}
}

func (s *Server) historyPage(id ref.RoomID, before string, limit int) (*messaging.HistoryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.rooms[id]
	if !ok {
		if len(s.config.Rooms) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, id)
		}
		// A room created on demand has no history until first use.
		return &messaging.HistoryResponse{Messages: []messaging.Message{}}, nil
	}

	end := len(target.messages)
	if before != "" {
		end = slices.IndexFunc(target.messages, func(message messaging.Message) bool { return message.ID == before })
		if end < 0 {
			return nil, fmt.Errorf("devserver: no message %q in %s", before, id)
		}
	}
	start := max(0, end-limit)

	page := &messaging.HistoryResponse{Messages: slices.Clone(target.messages[start:end])}
	if page.Messages == nil {
		page.Messages = []messaging.Message{}
	}
	if start > 0 {
		page.NextBefore = target.messages[start].ID
	}
	return page, nil
}

func (s *Server) writeAPIError(writer http.ResponseWriter, request *http.Request, status int, code, message string) {
	s.writeJSON(writer, request, status, messaging.APIError{Code: code, Message: message})
}

// writeJSON encodes value, gzip-compressed when the client accepts it.
// Encoding failures mean the client went away and are only logged.
func (s *Server) writeJSON(writer http.ResponseWriter, request *http.Request, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	if !strings.Contains(request.Header.Get("Accept-Encoding"), "gzip") {
		writer.WriteHeader(status)
		if err := json.NewEncoder(writer).Encode(value); err != nil {
			s.logger.Warn("writing JSON response", "error", err)
		}
		return
	}

	writer.Header().Set("Content-Encoding", "gzip")
	writer.Header().Add("Vary", "Accept-Encoding")
	writer.WriteHeader(status)
	compressed := gzip.NewWriter(writer)
	if err := json.NewEncoder(compressed).Encode(value); err != nil {
		s.logger.Warn("writing JSON response", "error", err)
	}
	if err := compressed.Close(); err != nil {
		s.logger.Warn("flushing gzip response", "error", err)
	}
}
