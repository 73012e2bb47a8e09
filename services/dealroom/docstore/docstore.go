// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package docstore holds uploaded deal documents (offering memoranda,
// rent rolls, track-record decks) in a GCS bucket per organization.
// Stored text feeds the extraction pipeline.
package docstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Storage subdirectories inside a project folder.
const (
	BorrowerDocsSubdir        = "borrower-docs"
	ProjectDocsSubdir         = "project-docs"
	SiteImagesSubdir          = "site-images"
	ArchitecturalDiagsSubdir  = "architectural-diagrams"
	placeholderFilename       = ".keep"
	placeholderContentPayload = "keep"
)

// BuildPath builds the storage path for one document version:
// {projectID}/{subdir}/{resourceID}/v{version}[_user{userID}]_{name}.
func BuildPath(projectID, subdir, resourceID string, version int, userID, fileName string) string {
	safeName := strings.ReplaceAll(fileName, "\\", "")
	userSuffix := ""
	if userID != "" {
		userSuffix = "_user" + userID
	}
	return fmt.Sprintf("%s/%s/%s/v%d%s_%s", projectID, subdir, resourceID, version, userSuffix, safeName)
}

// Client wraps one bucket.
type Client struct {
	storageClient *storage.Client
	BucketName    string
}

// NewClient opens a GCS client against bucketName. saKeyPath may be
// empty to use ambient credentials.
func NewClient(ctx context.Context, bucketName, saKeyPath string) (*Client, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{storageClient: storageClient, BucketName: bucketName}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// Upload writes r to path in the bucket.
func (c *Client) Upload(ctx context.Context, path, contentType string, r io.Reader) error {
	obj := c.storageClient.Bucket(c.BucketName).Object(path)
	writer := obj.NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, r); err != nil {
		return fmt.Errorf("failed to copy payload to GCS object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", path, err)
	}
	return nil
}

// Fetch reads the full object at path.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	reader, err := c.storageClient.Bucket(c.BucketName).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", path, err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", path, err)
	}
	return payload, nil
}

// EnsureProjectFolders creates placeholder objects so the project's
// document folders show up before any upload happens.
func (c *Client) EnsureProjectFolders(ctx context.Context, projectID string) error {
	for _, subdir := range []string{
		ProjectDocsSubdir, BorrowerDocsSubdir, SiteImagesSubdir, ArchitecturalDiagsSubdir,
	} {
		path := fmt.Sprintf("%s/%s/%s", projectID, subdir, placeholderFilename)
		if err := c.Upload(ctx, path, "text/plain", strings.NewReader(placeholderContentPayload)); err != nil {
			return fmt.Errorf("failed to create placeholder %s: %w", path, err)
		}
	}
	return nil
}
