package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/transport"
)

// OpenAPIValidator checks request parameters and bodies against the API document.
// Paths the document does not describe pass through untouched.
type OpenAPIValidator struct {
	*transport.BaseHandler
	router   routers.Router
	basePath string
}

func NewOpenAPIValidator(specPath, basePath string, logger *slog.Logger) (*OpenAPIValidator, error) {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}
	return NewOpenAPIValidatorFromData(data, basePath, logger)
}

func NewOpenAPIValidatorFromData(data []byte, basePath string, logger *slog.Logger) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	// Routes are matched on the path with basePath removed.
	doc.Servers = nil

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &OpenAPIValidator{
		BaseHandler: transport.NewBaseHandler(logger),
		router:      router,
		basePath:    strings.TrimRight(basePath, "/"),
	}, nil
}

func (v *OpenAPIValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, v.basePath+"/") {
			next.ServeHTTP(w, r)
			return
		}

		routed := r.Clone(r.Context())
		routed.URL.Path = strings.TrimPrefix(r.URL.Path, v.basePath)
		routed.URL.RawPath = ""

		route, params, err := v.router.FindRoute(routed)
		if err != nil {
			if !errors.Is(err, routers.ErrPathNotFound) && !errors.Is(err, routers.ErrMethodNotAllowed) {
				v.Logger.Warn("openapi route lookup failed", "path", r.URL.Path, "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
			Request:    routed,
			PathParams: params,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		})
		// The validator drains the body and leaves a fresh reader on routed.
		r.Body = routed.Body
		if err != nil {
			v.HandleServiceError(w, internal.NewValidationError(describeRequestError(err), internal.ErrCodeValidationFailed))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func describeRequestError(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.Parameter != nil:
			return fmt.Sprintf("parameter %q in %s is invalid", reqErr.Parameter.Name, reqErr.Parameter.In)
		case reqErr.RequestBody != nil:
			return "request body does not match the schema: " + firstLine(reqErr.Err)
		}
	}
	return firstLine(err)
}

func firstLine(err error) string {
	if err == nil {
		return "invalid request"
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
