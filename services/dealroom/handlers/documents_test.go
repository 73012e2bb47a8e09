// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/docstore"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Upload(_ context.Context, path, _ string, r io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return fmt.Errorf("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[path] = data
	return nil
}

func (b *memBucket) EnsureProjectFolders(_ context.Context, projectID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return fmt.Errorf("bucket unavailable")
	}
	for _, subdir := range []string{
		docstore.ProjectDocsSubdir, docstore.BorrowerDocsSubdir,
		docstore.SiteImagesSubdir, docstore.ArchitecturalDiagsSubdir,
	} {
		b.objects[projectID+"/"+subdir+"/.keep"] = []byte("keep")
	}
	return nil
}

func (b *memBucket) Fetch(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return data, nil
}

func newDocumentFixture(t *testing.T, bucket *memBucket) (*gin.Engine, *store.Badger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r := gin.New()
	r.Use(withAuth("advisor-1"))
	r.POST("/v1/documents", UploadDocument(bucket, st, nil))
	r.GET("/v1/documents/:projectId/:resourceId", FetchDocument(bucket, st))
	return r, st
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadDocumentVersionsAndFetch(t *testing.T) {
	bucket := newMemBucket()
	r, _ := newDocumentFixture(t, bucket)

	fields := map[string]string{
		"project_id":  "prj-1",
		"subdir":      "borrower-docs",
		"resource_id": "res-1",
	}

	for want := 1; want <= 2; want++ {
		body, contentType := multipartUpload(t, fields, "rent-roll.pdf", []byte("pdf-bytes"))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("Content-Type", contentType)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			Path    string `json:"path"`
			Version int    `json:"version"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, want, resp.Version)
		assert.Contains(t, resp.Path, "prj-1/borrower-docs/res-1/")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/documents/prj-1/res-1", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte("pdf-bytes"), w.Body.Bytes())
}

func TestUploadDocumentValidatesSubdir(t *testing.T) {
	r, _ := newDocumentFixture(t, newMemBucket())
	body, contentType := multipartUpload(t, map[string]string{
		"project_id":  "prj-1",
		"subdir":      "secrets",
		"resource_id": "res-1",
	}, "x.pdf", []byte("x"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadDocumentBucketFailure(t *testing.T) {
	bucket := newMemBucket()
	bucket.fail = true
	r, _ := newDocumentFixture(t, bucket)

	body, contentType := multipartUpload(t, map[string]string{
		"project_id":  "prj-1",
		"subdir":      "project-docs",
		"resource_id": "res-1",
	}, "om.pdf", []byte("x"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFetchDocumentUnknown(t *testing.T) {
	r, _ := newDocumentFixture(t, newMemBucket())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/documents/prj-1/missing", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
