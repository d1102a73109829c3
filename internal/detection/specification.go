package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/validation"
)

// Endpoint describes what the protocol allows on one route.
type Endpoint struct {
	Method      string
	Path        string
	Bearer      bool
	APITranID   bool
	ContentType string
	Body        func(v *validation.Validator, body []byte, form bool) error
}

func jsonBody[T any](check func(*validation.Validator, *T) error) func(*validation.Validator, []byte, bool) error {
	return func(v *validation.Validator, body []byte, _ bool) error {
		var req T
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return fmt.Errorf("malformed body: %w", err)
		}
		if dec.More() {
			return fmt.Errorf("trailing data after body")
		}
		return check(v, &req)
	}
}

func tokenBody(v *validation.Validator, body []byte, form bool) error {
	var req models.TokenRequest
	if form {
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Errorf("malformed form: %w", err)
		}
		for k := range vals {
			switch k {
			case "grant_type", "client_id", "client_secret", "scope":
			default:
				return fmt.Errorf("unexpected form field %q", k)
			}
		}
		req = models.TokenRequest{
			GrantType:    vals.Get("grant_type"),
			ClientID:     vals.Get("client_id"),
			ClientSecret: vals.Get("client_secret"),
			Scope:        vals.Get("scope"),
		}
	} else if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	return v.TokenRequest(&req)
}

// DefaultEndpoints is the protocol surface of the CA.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Method: http.MethodPost, Path: "/mgmts/oauth/token", ContentType: "form", Body: tokenBody},
		{Method: http.MethodGet, Path: "/mgmts/orgs", Bearer: true, APITranID: true},
		{Method: http.MethodPost, Path: "/oauth/token", ContentType: "form", Body: tokenBody},
		{Method: http.MethodPost, Path: "/oauth/revoke", Bearer: true},
		{Method: http.MethodPost, Path: "/ca/sign_request", Bearer: true, ContentType: "json",
			Body: jsonBody((*validation.Validator).SignRequest)},
		{Method: http.MethodPost, Path: "/ca/sign_result", Bearer: true, ContentType: "json",
			Body: jsonBody((*validation.Validator).SignResultRequest)},
		{Method: http.MethodPost, Path: "/ca/sign_verification", Bearer: true, ContentType: "json",
			Body: jsonBody((*validation.Validator).VerifyRequest)},
		{Method: http.MethodPost, Path: "/ca/data_access", Bearer: true, ContentType: "json",
			Body: jsonBody((*validation.Validator).DataAccessRequest)},
		{Method: http.MethodGet, Path: "/healthz"},
		{Method: http.MethodGet, Path: "/readyz"},
	}
}

// Specification flags requests that deviate from the protocol table.
type Specification struct {
	endpoints map[string]Endpoint
	paths     map[string]bool
	validator *validation.Validator
}

func NewSpecification(v *validation.Validator, endpoints []Endpoint) *Specification {
	s := &Specification{
		endpoints: make(map[string]Endpoint, len(endpoints)),
		paths:     make(map[string]bool, len(endpoints)),
		validator: v,
	}
	for _, e := range endpoints {
		s.endpoints[e.Method+" "+e.Path] = e
		s.paths[e.Path] = true
	}
	return s
}

func (s *Specification) Type() string { return TypeSpecification }

func (s *Specification) Inspect(r *Request) Verdict {
	if reason := s.violation(r); reason != "" {
		return Verdict{Detected: true, Reason: reason, Score: 1}
	}
	return Verdict{}
}

func (s *Specification) violation(r *Request) string {
	ep, ok := s.endpoints[r.Method+" "+r.Path]
	if !ok {
		if s.paths[r.Path] {
			return "method " + r.Method + " not allowed on " + r.Path
		}
		return "unknown endpoint " + r.Path
	}

	if ep.Bearer {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			return "missing bearer token"
		}
		if parts := strings.Split(strings.TrimPrefix(h, "Bearer "), "."); len(parts) != 3 {
			return "malformed bearer token"
		}
	}
	if id := r.Header.Get("x-api-tran-id"); id != "" || ep.APITranID {
		if err := s.validator.APITranID(id); err != nil {
			return "invalid x-api-tran-id"
		}
	}
	if len(r.Query) > 0 && ep.Method == http.MethodPost {
		return "unexpected query parameters"
	}

	if ep.Body == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	form := strings.HasPrefix(ct, "application/x-www-form-urlencoded")
	switch ep.ContentType {
	case "json":
		if !strings.HasPrefix(ct, "application/json") {
			return "unexpected content type " + ct
		}
	case "form":
		if !form && !strings.HasPrefix(ct, "application/json") {
			return "unexpected content type " + ct
		}
	}
	if err := ep.Body(s.validator, r.Body, form); err != nil {
		return err.Error()
	}
	return ""
}
