// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package sgio reads scene graphs from files and URLs.
package sgio

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/node"
)

const prefix = "sgio: "

// ErrNoReader means that no Reader was registered for
// a locator's extension.
var ErrNoReader = errors.New(prefix + "no reader for extension")

// Options controls how a locator is read.
// The zero value is valid.
type Options struct {
	// SearchPaths are tried, in order, when a relative
	// file locator does not exist in the working
	// directory.
	SearchPaths []string
	// Extension overrides the extension of the locator
	// when selecting a Reader. It includes the dot.
	Extension string
	// Variance is the variance given to the data
	// created by readers.
	Variance data.Variance
	// HTTPClient is used for http(s) locators.
	// If nil, the Registry's client is used.
	HTTPClient *retryablehttp.Client
}

// Reader is the interface of scene graph readers.
type Reader interface {
	// Extensions returns the locator extensions that
	// the Reader handles, including the dot.
	Extensions() []string

	// Read creates the subgraph described by req.
	// The caller owns a reference to the returned node.
	Read(ctx context.Context, req *Request) (node.Node, error)
}

// Request is a single read.
type Request struct {
	Locator string
	Options *Options

	reg *Registry
}

// Bytes returns the contents of req.Locator.
// Readers that generate subgraphs need not call it.
func (req *Request) Bytes(ctx context.Context) ([]byte, error) {
	return req.reg.Fetch(ctx, req.Locator, req.Options)
}

// Fetch returns the contents of uri, resolved relative
// to req.Locator.
func (req *Request) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return req.reg.Fetch(ctx, Resolve(req.Locator, uri), req.Options)
}

// Registry maps locator extensions to Readers.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
	flight  singleflight.Group
	client  *retryablehttp.Client
	log     logrus.FieldLogger
}

// NewRegistry creates a new Registry with the glTF
// Reader registered.
func NewRegistry() *Registry {
	r := &Registry{
		readers: make(map[string]Reader),
		log:     logrus.StandardLogger(),
	}
	r.Register(GLTFReader{})
	return r
}

// SetLogger sets the logger used by r.
func (r *Registry) SetLogger(log logrus.FieldLogger) {
	r.mu.Lock()
	r.log = log
	r.client = nil
	r.mu.Unlock()
}

// Register registers rd for each of its extensions,
// replacing previous registrations.
func (r *Registry) Register(rd Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range rd.Extensions() {
		r.readers[strings.ToLower(ext)] = rd
	}
}

// Reader returns the Reader registered for ext.
func (r *Registry) Reader(ext string) (Reader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.readers[strings.ToLower(ext)]
	return rd, ok
}

// Read reads the subgraph at locator.
// opts may be nil.
func (r *Registry) Read(ctx context.Context, locator string, opts *Options) (node.Node, error) {
	if opts == nil {
		opts = &Options{}
	}
	ext := opts.Extension
	if ext == "" {
		ext = Ext(locator)
	}
	rd, ok := r.Reader(ext)
	if !ok {
		return nil, errors.Wrapf(ErrNoReader, "%q", ext)
	}
	n, err := rd.Read(ctx, &Request{Locator: locator, Options: opts, reg: r})
	if err != nil {
		return nil, errors.Wrapf(err, prefix+"reading %s", locator)
	}
	return n, nil
}

// Fetch returns the contents of locator.
// Concurrent fetches of the same locator with the same
// search paths and HTTP client share a single read.
func (r *Registry) Fetch(ctx context.Context, locator string, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}
	v, err, shared := r.flight.Do(flightKey(locator, opts), func() (any, error) {
		return r.fetch(ctx, locator, opts)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger().WithField("file", locator).Debug("sgio: shared fetch")
	}
	return v.([]byte), nil
}

// flightKey identifies the fetches that read the same
// data. A relative file locator names a different file
// under different search paths.
func flightKey(locator string, opts *Options) string {
	if IsURL(locator) {
		return fmt.Sprintf("%s\x00%p", locator, opts.HTTPClient)
	}
	return locator + "\x00" + strings.Join(opts.SearchPaths, "\x00")
}

func (r *Registry) logger() logrus.FieldLogger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log
}

// httpClient returns the client used for locators
// when Options.HTTPClient is nil.
func (r *Registry) httpClient() *retryablehttp.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		r.client = retryablehttp.NewClient()
		r.client.RetryMax = 3
		r.client.Logger = leveled{r.log}
	}
	return r.client
}

// Ext returns the lowercase extension of locator.
// URL queries and fragments are ignored.
func Ext(locator string) string {
	if IsURL(locator) {
		if u, err := url.Parse(locator); err == nil {
			return strings.ToLower(path.Ext(u.Path))
		}
	}
	return strings.ToLower(filepath.Ext(locator))
}

// IsURL returns whether locator is an http(s) URL.
func IsURL(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// Resolve resolves uri relative to base.
// Absolute paths, URLs and data URIs are returned
// unchanged.
func Resolve(base, uri string) string {
	switch {
	case IsURL(uri), strings.HasPrefix(uri, "data:"), filepath.IsAbs(uri):
		return uri
	case IsURL(base):
		b, err := url.Parse(base)
		if err != nil {
			return uri
		}
		u, err := url.Parse(uri)
		if err != nil {
			return uri
		}
		return b.ResolveReference(u).String()
	}
	if u, err := url.PathUnescape(uri); err == nil {
		uri = u
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(uri))
}

// leveled adapts a logrus.FieldLogger to
// retryablehttp.LeveledLogger.
type leveled struct{ log logrus.FieldLogger }

func (l leveled) fields(kv []any) logrus.FieldLogger {
	log := l.log
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			log = log.WithField(k, kv[i+1])
		}
	}
	return log
}

func (l leveled) Error(msg string, kv ...any) { l.fields(kv).Error(msg) }
func (l leveled) Info(msg string, kv ...any)  { l.fields(kv).Debug(msg) }
func (l leveled) Debug(msg string, kv ...any) { l.fields(kv).Debug(msg) }
func (l leveled) Warn(msg string, kv ...any)  { l.fields(kv).Warn(msg) }
