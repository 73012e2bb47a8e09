// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/datatypes"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/extract"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/middleware"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// ExtractResumeFields runs AI extraction over a document's text and
// merges the extracted fields into the resume through the normal save
// path. Extracted values carry document provenance; fields the advisor
// locked are skipped, never overwritten.
func ExtractResumeFields(reg *Registry, st store.Store, ex *extract.Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, id, fields, ok := resumeParams(c)
		if !ok {
			return
		}

		var req datatypes.ExtractRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fieldNames := req.Fields
		if len(fieldNames) == 0 {
			fieldNames = append(append([]string{}, fields.Required...), fields.Optional...)
		}

		extracted, err := ex.Fields(c.Request.Context(), req.DocumentName, req.Text, fieldNames)
		if err != nil {
			slog.Error("Field extraction failed", "document", req.DocumentName, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "extraction backend failed"})
			return
		}
		if len(extracted) == 0 {
			c.JSON(http.StatusOK, datatypes.ExtractResponse{})
			return
		}

		key := resumeKey(kind, id)
		rec, err := reg.For(c.Request.Context(), key, fields)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load resume"})
			return
		}

		var locked map[string]bool
		if view := rec.Snapshot(); view.Record != nil {
			locked = view.Record.LockedFields
		}
		updates, meta := extract.Updates(extracted, locked)

		var applied, skipped []string
		for name := range extracted {
			if _, ok := updates[name]; ok {
				applied = append(applied, name)
			} else {
				skipped = append(skipped, name)
			}
		}
		sort.Strings(applied)
		sort.Strings(skipped)

		if len(updates) > 0 {
			actor := ""
			if info := middleware.GetAuthInfo(c); info != nil {
				actor = info.UserID
			}
			if _, err := rec.Save(c.Request.Context(), st, updates, meta, actor); err != nil {
				slog.Error("Failed to apply extracted fields", "key", key, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply extracted fields"})
				return
			}
		}

		c.JSON(http.StatusOK, datatypes.ExtractResponse{Applied: applied, Skipped: skipped})
	}
}
