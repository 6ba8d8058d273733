// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package sgio

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/gviegas/sgraph/gltf"
)

// ErrNotFound means that a file locator could not be
// found in the working directory nor in the search
// paths.
var ErrNotFound = errors.New(prefix + "file not found")

// FindFile returns the path of the file named by
// locator, trying each search path in order when
// locator is relative and does not exist.
func FindFile(locator string, searchPaths []string) (string, error) {
	locator = strings.TrimPrefix(locator, "file://")
	if _, err := os.Stat(locator); err == nil {
		return locator, nil
	} else if filepath.IsAbs(locator) {
		return "", errors.Wrap(ErrNotFound, locator)
	}
	for _, dir := range searchPaths {
		p := filepath.Join(dir, locator)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Wrap(ErrNotFound, locator)
}

// Open opens locator for reading.
// It accepts file paths, file:// locators and http(s)
// URLs.
func (r *Registry) Open(ctx context.Context, locator string, opts *Options) (io.ReadCloser, error) {
	if opts == nil {
		opts = &Options{}
	}
	if !IsURL(locator) {
		p, err := FindFile(locator, opts.SearchPaths)
		if err != nil {
			return nil, err
		}
		return os.Open(p)
	}
	client := opts.HTTPClient
	if client == nil {
		client = r.httpClient()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, errors.Wrap(err, prefix+"request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, prefix+"GET %s", locator)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf(prefix+"GET %s: %s", locator, resp.Status)
	}
	return resp.Body, nil
}

func (r *Registry) fetch(ctx context.Context, locator string, opts *Options) ([]byte, error) {
	if gltf.IsDataURI(locator) {
		return gltf.DecodeDataURI(locator)
	}
	rc, err := r.Open(ctx, locator, opts)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, prefix+"reading %s", locator)
	}
	return b, nil
}
