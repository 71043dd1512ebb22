package router

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"
)

// paramInfo is a validated, documented parameter.
type paramInfo struct {
	Name        string
	In          ParameterIn
	Type        any
	Description string
	Required    bool
}

// validateRouteSpec validates a RouteSpec.
func validateRouteSpec(spec RouteSpec) error {
	if spec.OperationID == "" {
		return errors.New("field OperationID required")
	}

	if spec.Summary == "" {
		return errors.New("field Summary required")
	}

	if spec.Description == "" {
		return errors.New("field Description required")
	}

	if spec.Group == "" {
		return errors.New("field Group required")
	}

	if spec.Handler == nil {
		return errors.New("field Handler required")
	}

	return nil
}

func generateParameters(spec RouteSpec) ([]paramInfo, error) {
	var parameters []paramInfo

	paramsInPath := map[string]struct{}{}
	documentedPathParams := map[string]struct{}{}

	for section := range strings.SplitSeq(spec.fullPath, "/") {
		names, err := extractParamNames(section)
		if err != nil {
			return nil, fmt.Errorf("invalid path %s: %w", spec.fullPath, err)
		}

		for _, name := range names {
			if !isValidParameterName(name) {
				return nil, fmt.Errorf("invalid parameter name %s in path %s", name, spec.fullPath)
			}
			paramsInPath[name] = struct{}{}
		}
	}

	// Sorted so the generated document is stable.
	names := make([]string, 0, len(spec.Parameters))
	for name := range spec.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		paramSpec := spec.Parameters[name]

		if name == "" {
			return nil, fmt.Errorf("parameter name required for %s %s", spec.method, spec.fullPath)
		}

		if paramSpec.Description == "" {
			return nil, fmt.Errorf("parameter Description required for %s %s", spec.method, spec.fullPath)
		}

		if paramSpec.Type == nil {
			return nil, fmt.Errorf("parameter Type required for %s %s", spec.method, spec.fullPath)
		}

		validInValues := []ParameterIn{ParameterInPath, ParameterInQuery, ParameterInHeader}
		if !slices.Contains(validInValues, paramSpec.In) {
			return nil, fmt.Errorf("parameter In must be one of %v for %s %s", validInValues, spec.method, spec.fullPath)
		}

		if paramSpec.In == ParameterInPath {
			if _, exists := paramsInPath[name]; !exists {
				return nil, fmt.Errorf("documented path parameter %s not found in path", name)
			}

			if !paramSpec.Required {
				return nil, fmt.Errorf("path parameter %s must be required", name)
			}

			documentedPathParams[name] = struct{}{}
		}

		parameters = append(parameters, paramInfo{
			Name:        name,
			In:          paramSpec.In,
			Type:        paramSpec.Type,
			Description: paramSpec.Description,
			Required:    paramSpec.Required,
		})
	}

	for name := range paramsInPath {
		if _, exists := documentedPathParams[name]; !exists {
			return nil, fmt.Errorf("path parameter %s not documented", name)
		}
	}

	return parameters, nil
}

// sanitizePath removes double slashes and trailing slashes from a path.
func sanitizePath(path string) string {
	cleanPath := path
	for strings.Contains(cleanPath, "//") {
		cleanPath = strings.ReplaceAll(cleanPath, "//", "/")
	}

	cleanPath = strings.TrimSuffix(cleanPath, "/")
	if cleanPath == "" {
		cleanPath = "/"
	}

	return cleanPath
}

// extractParamNames returns the parameter names of a chi pattern,
// without any regex matcher: {deviceID:[a-z]+} yields deviceID.
func extractParamNames(path string) ([]string, error) {
	if strings.Count(path, "{") != strings.Count(path, "}") {
		return nil, errors.New("mismatched number of '{' and '}' in path")
	}

	names := []string{}
	start := -1

	for i, ch := range path {
		switch {
		case ch == '{':
			start = i + 1
		case ch == '}' && start >= 0:
			name, _, _ := strings.Cut(path[start:i], ":")
			if name != "" {
				names = append(names, name)
			}
			start = -1
		}
	}

	return names, nil
}

// openAPIPath strips chi regex matchers so the path is a valid OpenAPI template.
func openAPIPath(path string) string {
	var b strings.Builder

	inParam, skipping := false, false
	for _, ch := range path {
		switch {
		case ch == '{':
			inParam = true
		case ch == ':' && inParam:
			skipping = true
		case ch == '}':
			inParam, skipping = false, false
		}

		if !skipping {
			b.WriteRune(ch)
		}
	}

	return b.String()
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// isValidParameterName reports whether name starts with a letter and
// contains only letters, digits and underscores.
func isValidParameterName(name string) bool {
	if name == "" {
		return false
	}

	for i, r := range name {
		if i == 0 {
			if !isASCIILetter(r) {
				return false
			}

			continue
		}

		if !isASCIILetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}
