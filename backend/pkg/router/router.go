// Package router wraps chi with a route builder that records every route
// it registers into an OpenAPI document.
package router

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
)

type ParameterIn string

const (
	ParameterInPath   ParameterIn = "path"
	ParameterInQuery  ParameterIn = "query"
	ParameterInHeader ParameterIn = "header"
)

// ParameterSpec documents a path, query or header parameter.
type ParameterSpec struct {
	In          ParameterIn
	Description string
	Required    bool
	// Type is a value of the parameter's Go type, e.g. new(string).
	Type any
}

// ResponseSpec documents one response status.
type ResponseSpec struct {
	Description string
	Type        any
	Examples    map[string]any
}

// RouteSpec describes a route and its documentation.
type RouteSpec struct {
	OperationID string
	Summary     string
	Description string
	Group       string
	// Deprecated holds the deprecation notice, empty when not deprecated.
	Deprecated  string
	RequestType any
	Handler     http.HandlerFunc
	Parameters  map[string]ParameterSpec
	Responses   map[int]ResponseSpec

	method   string
	fullPath string
}

// Info is the top-level metadata of the generated document.
type Info struct {
	Title       string
	Version     string
	Description string
	ServerURL   string
}

// RouteBuilder registers routes on a chi router and documents them.
type RouteBuilder struct {
	l        *slog.Logger
	router   chi.Router
	basePath string
	doc      *document
}

// NewRouteBuilder creates a builder rooted at "/".
func NewRouteBuilder(l *slog.Logger, info Info) (*RouteBuilder, error) {
	if info.Title == "" {
		return nil, fmt.Errorf("router: info title required")
	}

	return &RouteBuilder{
		l:        l.With(slog.String("component", "router")),
		router:   chi.NewRouter(),
		basePath: "/",
		doc:      newDocument(info),
	}, nil
}

// Router returns the underlying chi router.
func (rb *RouteBuilder) Router() chi.Router {
	return rb.router
}

// OpenAPI returns the document built from the registered routes.
func (rb *RouteBuilder) OpenAPI() *openapi3.T {
	return rb.doc.spec
}

// Use appends middlewares to the current router level.
func (rb *RouteBuilder) Use(middlewares ...func(http.Handler) http.Handler) {
	rb.router.Use(middlewares...)
}

// Route mounts a sub-router under path.
func (rb *RouteBuilder) Route(path string, fn func(rb *RouteBuilder)) {
	rb.router.Route(path, func(r chi.Router) {
		fn(&RouteBuilder{
			l:        rb.l,
			router:   r,
			basePath: sanitizePath(rb.basePath + "/" + path),
			doc:      rb.doc,
		})
	})
}

// Group creates an inline group that shares the current path but can carry
// its own middlewares.
func (rb *RouteBuilder) Group(fn func(rb *RouteBuilder)) {
	rb.router.Group(func(r chi.Router) {
		fn(&RouteBuilder{
			l:        rb.l,
			router:   r,
			basePath: rb.basePath,
			doc:      rb.doc,
		})
	})
}

func (rb *RouteBuilder) Get(path string, spec RouteSpec) error {
	return rb.register(http.MethodGet, path, spec)
}

func (rb *RouteBuilder) Post(path string, spec RouteSpec) error {
	return rb.register(http.MethodPost, path, spec)
}

func (rb *RouteBuilder) Put(path string, spec RouteSpec) error {
	return rb.register(http.MethodPut, path, spec)
}

func (rb *RouteBuilder) Delete(path string, spec RouteSpec) error {
	return rb.register(http.MethodDelete, path, spec)
}

func (rb *RouteBuilder) MustGet(path string, spec RouteSpec) {
	rb.must(rb.Get(path, spec))
}

func (rb *RouteBuilder) MustPost(path string, spec RouteSpec) {
	rb.must(rb.Post(path, spec))
}

func (rb *RouteBuilder) MustPut(path string, spec RouteSpec) {
	rb.must(rb.Put(path, spec))
}

func (rb *RouteBuilder) MustDelete(path string, spec RouteSpec) {
	rb.must(rb.Delete(path, spec))
}

func (rb *RouteBuilder) must(err error) {
	if err != nil {
		rb.l.Error("failed to register route", slog.String("error", err.Error()))
		panic(err)
	}
}

func (rb *RouteBuilder) register(method, path string, spec RouteSpec) error {
	spec.method = method
	spec.fullPath = sanitizePath(rb.basePath + "/" + path)

	if err := validateRouteSpec(spec); err != nil {
		return fmt.Errorf("invalid route %s %s: %w", method, spec.fullPath, err)
	}

	params, err := generateParameters(spec)
	if err != nil {
		return err
	}

	if err := rb.doc.addOperation(spec, params); err != nil {
		return fmt.Errorf("failed to document %s %s: %w", method, spec.fullPath, err)
	}

	rb.router.Method(method, path, spec.Handler)
	rb.l.Debug("route registered", slog.String("method", method), slog.String("path", spec.fullPath))

	return nil
}
