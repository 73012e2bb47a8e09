// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/extract"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/handlers"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/meetings"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/middleware"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// Deps bundles everything the route table wires into handlers.
type Deps struct {
	Version string
	// AllowedOrigin is the dashboard origin for CORS. "*" disables the
	// origin check.
	AllowedOrigin string
	JWTSecret     []byte
	Store         store.Store
	Registry      *handlers.Registry
	Meetings      *meetings.Service
	Fanout        *notify.Fanout
	Feeds         *handlers.Feeds
	Extractor     *extract.Extractor
	Bucket        handlers.Bucket
}

func SetupRoutes(router *gin.Engine, deps Deps) {

	router.Use(middleware.CORS(deps.AllowedOrigin))

	router.GET("/health", handlers.Health(deps.Version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.JWTSecret))
	{
		resumes := v1.Group("/resumes")
		{
			resumes.GET("/:kind/:id", handlers.GetResume(deps.Registry))
			resumes.PUT("/:kind/:id", handlers.SaveResume(deps.Registry, deps.Store, deps.Fanout, deps.Bucket))
			resumes.POST("/:kind/:id/ack", handlers.AckResumeBanner(deps.Registry))
			resumes.POST("/:kind/:id/locks", handlers.LockResumeFields(deps.Registry, deps.Store))
			if deps.Extractor != nil {
				resumes.POST("/:kind/:id/extract", handlers.ExtractResumeFields(deps.Registry, deps.Store, deps.Extractor))
			}
		}

		mtgs := v1.Group("/meetings")
		{
			mtgs.POST("", handlers.ScheduleMeeting(deps.Meetings, deps.Fanout))
			mtgs.GET("", handlers.ListMeetings(deps.Meetings))
			mtgs.GET("/:id", handlers.GetMeeting(deps.Meetings))
			mtgs.POST("/:id/response", handlers.UpdateMeetingResponse(deps.Meetings))
			mtgs.DELETE("/:id", handlers.CancelMeeting(deps.Meetings))
			if deps.Extractor != nil {
				mtgs.POST("/:id/summary", handlers.SummarizeMeeting(deps.Meetings, deps.Extractor))
			}
		}

		if deps.Bucket != nil {
			documents := v1.Group("/documents")
			{
				documents.POST("", handlers.UploadDocument(deps.Bucket, deps.Store, deps.Fanout))
				documents.GET("/:projectId/:resourceId", handlers.FetchDocument(deps.Bucket, deps.Store))
			}
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", handlers.ListNotifications(deps.Feeds))
			notifications.POST("/read", handlers.MarkNotificationsRead(deps.Feeds))
		}

		v1.GET("/records/ws", handlers.WatchRecords(deps.Store))
	}
}
