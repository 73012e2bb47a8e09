// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/validation"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/docstore"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/middleware"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// Bucket is the slice of the document store the handlers need.
// docstore.Client satisfies it.
type Bucket interface {
	Upload(ctx context.Context, path, contentType string, r io.Reader) error
	Fetch(ctx context.Context, path string) ([]byte, error)
	EnsureProjectFolders(ctx context.Context, projectID string) error
}

// maxUploadBytes caps one document upload.
const maxUploadBytes = 50 << 20 // 50MB

var validSubdirs = map[string]bool{
	docstore.BorrowerDocsSubdir:       true,
	docstore.ProjectDocsSubdir:        true,
	docstore.SiteImagesSubdir:         true,
	docstore.ArchitecturalDiagsSubdir: true,
}

// UploadDocument stores one document version in the bucket, records its
// metadata, and fans out a document_uploaded notification to the
// project's members.
func UploadDocument(bucket Bucket, st store.Store, fanout *notify.Fanout) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		projectID := c.PostForm("project_id")
		subdir := c.PostForm("subdir")
		resourceID := c.PostForm("resource_id")
		if !validSubdirs[subdir] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a valid subdir is required"})
			return
		}
		if err := validation.ValidateID(projectID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validation.ValidateID(resourceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if err := validation.ValidateFileName(fileHeader.Filename); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
			return
		}
		defer file.Close()

		// Version from the metadata record: one record per resource,
		// bumped on each upload.
		metaKey := "documents/" + projectID + "/" + resourceID
		version := 1
		if rec, err := st.Get(c.Request.Context(), metaKey); err == nil {
			if v, ok := rec.Content["version"].(float64); ok {
				version = int(v) + 1
			}
		}

		path := docstore.BuildPath(projectID, subdir, resourceID, version, info.UserID, fileHeader.Filename)
		contentType := fileHeader.Header.Get("Content-Type")
		if err := bucket.Upload(c.Request.Context(), path, contentType, file); err != nil {
			slog.Error("Document upload failed", "path", path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store document"})
			return
		}

		if _, err := st.Put(c.Request.Context(), &store.Record{
			Key: metaKey,
			Content: map[string]any{
				"projectId":  projectID,
				"resourceId": resourceID,
				"subdir":     subdir,
				"fileName":   fileHeader.Filename,
				"path":       path,
				"version":    float64(version),
				"uploadedBy": info.UserID,
			},
			UpdatedBy: info.UserID,
		}); err != nil {
			slog.Error("Failed to record document metadata", "path", path, "error", err)
		}

		if fanout != nil {
			event := &notify.DomainEvent{
				ID:         uuid.New().String(),
				Type:       notify.EventDocumentUploaded,
				ProjectID:  projectID,
				ActorID:    info.UserID,
				ResourceID: resourceID,
				CreatedAt:  time.Now().UTC(),
				Payload:    map[string]any{"fileName": fileHeader.Filename},
			}
			if _, err := fanout.Process(c.Request.Context(), event); err != nil {
				slog.Error("Document notification fan-out failed", "path", path, "error", err)
			}
		}

		c.JSON(http.StatusCreated, gin.H{"path": path, "version": version})
	}
}

// FetchDocument streams a stored document version back to the caller.
func FetchDocument(bucket Bucket, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, resourceID := c.Param("projectId"), c.Param("resourceId")
		rec, err := st.Get(c.Request.Context(), "documents/"+projectID+"/"+resourceID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		path, _ := rec.Content["path"].(string)
		fileName, _ := rec.Content["fileName"].(string)

		payload, err := bucket.Fetch(c.Request.Context(), path)
		if err != nil {
			slog.Error("Document fetch failed", "path", path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch document"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
		c.Data(http.StatusOK, "application/octet-stream", payload)
	}
}
