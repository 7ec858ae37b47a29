package main_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/leave"
	"github.com/frahmantamala/approval-workflow/internal/role"
	"github.com/frahmantamala/approval-workflow/internal/transport/rest"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

func TestApprovalWorkflow(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ApprovalWorkflow Suite")
}

var _ = Describe("API document", func() {
	var doc *openapi3.T

	BeforeEach(func() {
		var err error
		doc, err = openapi3.NewLoader().LoadFromFile("api/openapi.yml")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Validate(context.Background())).To(Succeed())
	})

	It("documents every API route the router serves", func() {
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Handlers{
			Health:   rest.NewHealthHandler(nil, nil),
			Auth:     auth.NewHandler(nil),
			Role:     role.NewHandler(nil),
			User:     user.NewHandler(nil),
			Workflow: workflow.NewHandler(nil),
			Leave:    leave.NewHandler(nil),
		}, rest.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

		var missing []string
		err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if !strings.HasPrefix(route, rest.APIBasePath+"/") {
				return nil
			}
			path := strings.TrimSuffix(strings.TrimPrefix(route, rest.APIBasePath), "/")
			item := doc.Paths.Value(path)
			if item == nil || item.GetOperation(method) == nil {
				missing = append(missing, method+" "+path)
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeEmpty())
	})
})

var _ = Describe("migrations", func() {
	It("declares both directions in every file", func() {
		files, err := filepath.Glob("db/migrations/*.sql")
		Expect(err).NotTo(HaveOccurred())
		Expect(files).NotTo(BeEmpty())

		for _, f := range files {
			body, err := os.ReadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("-- +goose Up"), f)
			Expect(string(body)).To(ContainSubstring("-- +goose Down"), f)
		}
	})
})
