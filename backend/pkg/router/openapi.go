package router

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/oasdiff/yaml"
)

// OpenAPIVersion is the OpenAPI version of generated documents.
const OpenAPIVersion = "3.0.3"

const jsonContentType = "application/json"

type document struct {
	mu   sync.Mutex
	spec *openapi3.T
}

func newDocument(info Info) *document {
	spec := &openapi3.T{
		OpenAPI: OpenAPIVersion,
		Info: &openapi3.Info{
			Title:       info.Title,
			Version:     info.Version,
			Description: info.Description,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{},
		},
	}

	if info.ServerURL != "" {
		spec.Servers = openapi3.Servers{{URL: info.ServerURL}}
	}

	return &document{spec: spec}
}

func (d *document) addOperation(spec RouteSpec, params []paramInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := &openapi3.Operation{
		OperationID: spec.OperationID,
		Summary:     spec.Summary,
		Description: spec.Description,
		Tags:        []string{spec.Group},
		Deprecated:  spec.Deprecated != "",
	}

	if spec.Deprecated != "" {
		op.Description += "\n\nDeprecated: " + spec.Deprecated
	}

	for _, p := range params {
		schemaRef, err := d.schemaFor(p.Type)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}

		var param *openapi3.Parameter

		switch p.In {
		case ParameterInPath:
			param = openapi3.NewPathParameter(p.Name)
		case ParameterInQuery:
			param = openapi3.NewQueryParameter(p.Name)
		case ParameterInHeader:
			param = openapi3.NewHeaderParameter(p.Name)
		}

		param.Description = p.Description
		param.Required = p.Required
		param.Schema = schemaRef

		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: param})
	}

	if spec.RequestType != nil {
		schemaRef, err := d.schemaFor(spec.RequestType)
		if err != nil {
			return fmt.Errorf("request body: %w", err)
		}

		body := openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(schemaRef)
		op.RequestBody = &openapi3.RequestBodyRef{Value: body}
	}

	codes := make([]int, 0, len(spec.Responses))
	for code := range spec.Responses {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	opts := make([]openapi3.NewResponsesOption, 0, len(codes))

	for _, code := range codes {
		resp, err := d.response(spec.Responses[code])
		if err != nil {
			return fmt.Errorf("response %d: %w", code, err)
		}

		opts = append(opts, openapi3.WithStatus(code, &openapi3.ResponseRef{Value: resp}))
	}

	if len(opts) == 0 {
		return fmt.Errorf("at least one response required")
	}

	op.Responses = openapi3.NewResponses(opts...)

	path := openAPIPath(spec.fullPath)

	item := d.spec.Paths.Value(path)
	if item == nil {
		item = &openapi3.PathItem{}
		d.spec.Paths.Set(path, item)
	}

	if item.GetOperation(spec.method) != nil {
		return fmt.Errorf("operation already registered")
	}

	item.SetOperation(spec.method, op)

	return nil
}

func (d *document) response(rs ResponseSpec) (*openapi3.Response, error) {
	description := rs.Description
	if description == "" {
		description = "Response"
	}

	resp := openapi3.NewResponse().WithDescription(description)
	if rs.Type == nil {
		return resp, nil
	}

	schemaRef, err := d.schemaFor(rs.Type)
	if err != nil {
		return nil, err
	}

	media := openapi3.NewMediaType().WithSchemaRef(schemaRef)

	names := make([]string, 0, len(rs.Examples))
	for name := range rs.Examples {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		media = media.WithExample(name, rs.Examples[name])
	}

	resp.Content = openapi3.Content{jsonContentType: media}

	return resp, nil
}

// schemaFor generates a schema for the Go value, registering named types
// as components.
func (d *document) schemaFor(v any) (*openapi3.SchemaRef, error) {
	ref, err := openapi3gen.NewSchemaRefForValue(v, d.spec.Components.Schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %T: %w", v, err)
	}

	return ref, nil
}

// JSON renders the document as JSON.
func (rb *RouteBuilder) JSON() ([]byte, error) {
	rb.doc.mu.Lock()
	defer rb.doc.mu.Unlock()

	return rb.doc.spec.MarshalJSON()
}

// YAML renders the document as YAML.
func (rb *RouteBuilder) YAML() ([]byte, error) {
	rb.doc.mu.Lock()
	defer rb.doc.mu.Unlock()

	return yaml.Marshal(rb.doc.spec)
}

// DocsHandler serves the document, as YAML when the path ends in .yaml.
func (rb *RouteBuilder) DocsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			data        []byte
			err         error
			contentType = jsonContentType
		)

		if strings.HasSuffix(r.URL.Path, ".yaml") {
			data, err = rb.YAML()
			contentType = "application/yaml"
		} else {
			data, err = rb.JSON()
		}

		if err != nil {
			http.Error(w, "failed to render document", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}
}
