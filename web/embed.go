// Package web serves the static API reference page.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:docs/dist
var docsFS embed.FS

// DocsBase is where the reference page is mounted.
const DocsBase = "/docs/"

type Router interface {
	HandleFunc(pattern string, handler http.HandlerFunc)
	Mount(pattern string, handler http.Handler)
}

// DocsApp renders the OpenAPI document served under /api/docs.
func DocsApp(l *slog.Logger) (*StaticApp, error) {
	return NewStaticApp(l, "docs", docsFS, "docs/dist", DocsBase)
}

// StaticApp serves a directory of prebuilt files under a URL prefix.
type StaticApp struct {
	name string
	l    *slog.Logger
	fs   fs.FS
	base string
}

func NewStaticApp(l *slog.Logger, name string, app fs.FS, subDir, base string) (*StaticApp, error) {
	subFS, err := fs.Sub(app, subDir)
	if err != nil {
		return nil, err
	}

	return &StaticApp{
		name: name,
		fs:   subFS,
		base: "/" + strings.Trim(base, "/") + "/",
		l:    l.With(slog.String("component", "static"), slog.String("app", name)),
	}, nil
}

func (a *StaticApp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if name == "" {
		name = "index.html"
	}

	for _, candidate := range []string{name, name + ".html", name + "/index.html"} {
		info, err := fs.Stat(a.fs, candidate)
		if err != nil || info.IsDir() {
			continue
		}

		http.ServeFileFS(w, r, a.fs, candidate)

		return
	}

	a.l.Debug("File not found", slog.String("path", name))
	http.NotFound(w, r)
}

// Register mounts the app at its base, redirecting the bare prefix.
func (a *StaticApp) Register(mux Router) {
	bare := strings.TrimSuffix(a.base, "/")

	mux.HandleFunc(bare, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, a.base, http.StatusMovedPermanently)
	})
	mux.Mount(a.base, http.StripPrefix(a.base, a))

	a.l.Info("Registered static app", slog.String("base", a.base))
}
