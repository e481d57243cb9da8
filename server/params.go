package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gofhir/validationsupport/support"
)

const maxBodyBytes = 8 << 20

// readParameters collects the operation input. A POST body must be a
// Parameters resource; otherwise the query string is used, where a coding
// is written as system|code.
func readParameters(c echo.Context) (*support.Parameters, error) {
	req := c.Request()
	if req.Method == http.MethodPost && req.Body != nil {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
		if err != nil {
			return nil, badRequest("read body: %v", err)
		}
		if len(body) > maxBodyBytes {
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			p, err := support.ParseParameters(body)
			if err != nil {
				return nil, badRequest("%v", err)
			}
			return p, nil
		}
	}

	p := support.NewParameters()
	query := c.QueryParams()
	for name, values := range query {
		for _, v := range values {
			if name == "coding" {
				p.AddCoding(name, tokenCoding(v))
				continue
			}
			p.AddString(name, v)
		}
	}
	return p, nil
}

func tokenCoding(token string) support.Coding {
	system, code, ok := strings.Cut(token, "|")
	if !ok {
		return support.Coding{Code: token}
	}
	return support.Coding{System: system, Code: code}
}

// coding returns the named valueCoding parameter, if any.
func coding(p *support.Parameters, name string) (support.Coding, bool) {
	param, ok := p.Get(name)
	if !ok || param.ValueCoding == nil {
		return support.Coding{}, false
	}
	return *param.ValueCoding, true
}

func codings(p *support.Parameters, name string) []support.Coding {
	var out []support.Coding
	for _, param := range p.GetAll(name) {
		if param.ValueCoding != nil {
			out = append(out, *param.ValueCoding)
		}
	}
	return out
}

// codeableConcept reads a valueCodeableConcept parameter, or the coding
// parts of a parameter with that name.
func codeableConcept(p *support.Parameters, name string) []support.Coding {
	param, ok := p.Get(name)
	if !ok {
		return nil
	}
	if param.ValueCodeableConcept != nil {
		return param.ValueCodeableConcept.Coding
	}
	var out []support.Coding
	for _, part := range param.Parts("coding") {
		if part.ValueCoding != nil {
			out = append(out, *part.ValueCoding)
		}
	}
	return out
}

func boolParam(p *support.Parameters, name string) (bool, error) {
	if v, ok := p.Bool(name); ok {
		return v, nil
	}
	raw := p.Value(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("parameter %s must be a boolean, got %q", name, raw)
	}
	return v, nil
}

func intParam(p *support.Parameters, name string, def int) (int, error) {
	if param, ok := p.Get(name); ok && param.ValueInteger != nil {
		return *param.ValueInteger, nil
	}
	raw := p.Value(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest("parameter %s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}

// firstValue returns the first non-empty string value among names.
func firstValue(p *support.Parameters, names ...string) string {
	for _, name := range names {
		if v := p.Value(name); v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(c echo.Context, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, FHIRContentType, data)
}
