// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/calendar"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/datatypes"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/extract"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/meetings"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/middleware"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
)

// ScheduleMeeting creates a meeting and syncs invites to every
// participant's connected calendars. Calendar failures never fail the
// meeting; the response carries whatever event refs were created.
func ScheduleMeeting(svc *meetings.Service, fanout *notify.Fanout) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req datatypes.ScheduleMeetingRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		m := &meetings.Meeting{
			ProjectID:   req.ProjectID,
			Title:       req.Title,
			Description: req.Description,
			StartsAt:    req.StartsAt,
			EndsAt:      req.EndsAt,
			Location:    req.Location,
			JoinURL:     req.JoinURL,
			OrganizerID: info.UserID,
		}
		for _, p := range req.Participants {
			m.Participants = append(m.Participants, meetings.Participant{
				UserID: p.UserID,
				Email:  p.Email,
			})
		}

		m, err := svc.Schedule(c.Request.Context(), m)
		if err != nil {
			slog.Error("Meeting scheduling failed", "projectId", req.ProjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule meeting"})
			return
		}

		if fanout != nil {
			event := &notify.DomainEvent{
				ID:         "meeting-scheduled-" + m.ID,
				Type:       notify.EventMeetingScheduled,
				ProjectID:  m.ProjectID,
				ActorID:    info.UserID,
				ResourceID: m.ID,
				CreatedAt:  time.Now().UTC(),
				Payload:    map[string]any{"title": m.Title, "starts_at": m.StartsAt},
			}
			if _, err := fanout.Process(c.Request.Context(), event); err != nil {
				slog.Error("Meeting notification fan-out failed", "meetingId", m.ID, "error", err)
			}
		}

		c.JSON(http.StatusCreated, datatypes.MeetingResponse{Meeting: m})
	}
}

// GetMeeting returns one meeting.
func GetMeeting(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, meetings.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load meeting"})
			return
		}
		c.JSON(http.StatusOK, datatypes.MeetingResponse{Meeting: m})
	}
}

// ListMeetings returns a project's meetings.
func ListMeetings(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Query("project_id")
		if projectID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
			return
		}
		list, err := svc.ListForProject(c.Request.Context(), projectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list meetings"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"meetings": list})
	}
}

// UpdateMeetingResponse records the authenticated participant's
// accept/decline/tentative response and patches their own calendar
// events. Participants can only update their own response.
func UpdateMeetingResponse(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req datatypes.UpdateMeetingResponseRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		meetingID := c.Param("id")
		synced, err := svc.UpdateResponse(c.Request.Context(), meetingID, info.UserID, info.UserID, calendar.ResponseStatus(req.Status))
		if err != nil {
			switch {
			case errors.Is(err, meetings.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
			case errors.Is(err, meetings.ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": "participants may only update their own response"})
			default:
				slog.Error("Response update failed", "meetingId", meetingID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update response"})
			}
			return
		}

		c.JSON(http.StatusOK, datatypes.UpdateResponseResult{
			MeetingID:    meetingID,
			Status:       req.Status,
			EventsSynced: synced,
		})
	}
}

// SummarizeMeeting generates a structured summary from a meeting
// transcript and stores it on the meeting record. The caller must be
// the organizer or a participant.
func SummarizeMeeting(svc *meetings.Service, ex *extract.Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req datatypes.SummarizeMeetingRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		transcript := req.Transcript
		if req.Format == "vtt" {
			transcript = extract.ParseWebVTT(transcript)
		}

		meetingID := c.Param("id")
		summary, err := ex.Summarize(c.Request.Context(), transcript)
		if err != nil {
			slog.Error("Transcript summarization failed", "meetingId", meetingID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "summarization failed"})
			return
		}

		raw, err := json.Marshal(summary)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode summary"})
			return
		}
		var asMap map[string]any
		if err := json.Unmarshal(raw, &asMap); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode summary"})
			return
		}

		if err := svc.SaveSummary(c.Request.Context(), meetingID, info.UserID, asMap); err != nil {
			switch {
			case errors.Is(err, meetings.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
			case errors.Is(err, meetings.ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": "only meeting members may attach a summary"})
			default:
				slog.Error("Summary persist failed", "meetingId", meetingID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store summary"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"summary": summary})
	}
}

// CancelMeeting cancels a meeting and best-effort deletes its calendar
// events. Organizer only.
func CancelMeeting(svc *meetings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		err := svc.Cancel(c.Request.Context(), c.Param("id"), info.UserID)
		if err != nil {
			switch {
			case errors.Is(err, meetings.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
			case errors.Is(err, meetings.ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": "only the organizer may cancel"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel meeting"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}
