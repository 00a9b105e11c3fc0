package integration

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/ociref-server/internal/badge"
	"github.com/stacklok/ociref-server/internal/reference"
	"github.com/stacklok/ociref-server/test-integration/ociref-api/helpers"
)

var _ = Describe("Reference API", Label("api", "memory"), func() {
	var (
		tempDir string
		server  *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("ociref-memory-")
		server = helpers.NewServerTestHelper(ctx, helpers.WriteConfig(tempDir, helpers.MemoryConfig()))
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(server.StopServer()).To(Succeed())
		cleanupTempDir(tempDir)
	})

	Context("storing references", func() {
		It("should publish the stored url on the badge", func() {
			status, body := server.StoreReference("httpserver", "wasmcloud.azurecr.io/httpserver:0.19.1")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("Url wasmcloud.azurecr.io/httpserver:0.19.1 stored for httpserver"))

			d := server.Badge("httpserver")
			Expect(d.Message).To(Equal("wasmcloud.azurecr.io/httpserver:0.19.1"))
			Expect(d.Color).To(Equal(badge.ColorPublished))
			Expect(d.SchemaVersion).To(Equal(badge.SchemaVersion))
		})

		It("should keep the last write", func() {
			server.StoreReference("keyvalue", "reg/keyvalue:1")
			server.StoreReference("keyvalue", "reg/keyvalue:2")

			Expect(server.Badge("keyvalue").Message).To(Equal("reg/keyvalue:2"))
		})

		It("should accept the provider alias", func() {
			status, _ := server.Do(http.MethodPost, "/api/provider", `{"name":"nats","url":"reg/nats:1"}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(server.Badge("nats").Message).To(Equal("reg/nats:1"))
		})

		DescribeTable("should reject malformed bodies",
			func(body string) {
				status, _ := server.Do(http.MethodPost, "/api/reference", body)
				Expect(status).To(Equal(http.StatusBadRequest))
			},
			Entry("not json", "name=x"),
			Entry("missing url", `{"name":"x"}`),
			Entry("missing name", `{"url":"reg/x:1"}`),
			Entry("wrong types", `{"name":1,"url":2}`),
		)
	})

	Context("push events", func() {
		It("should store host/repository:tag under the repository", func() {
			status, body := server.PushEvent("wasmcloud.azurecr.io", "redis", "0.11.2")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("stored for redis"))

			Expect(server.Badge("redis").Message).To(Equal("wasmcloud.azurecr.io/redis:0.11.2"))
		})

		It("should not resolve nested repositories by their last segment alone", func() {
			server.PushEvent("wasmcloud.azurecr.io", "Org/Sub/Provider", "1.0.0")

			d := server.Badge("Provider")
			Expect(d.Color).To(Equal(badge.ColorPending))

			d = server.Badge("Org/Sub/Provider")
			Expect(d.Message).To(Equal(badge.FallbackMessage))
		})

		It("should reject events missing the target", func() {
			status, _ := server.Do(http.MethodPost, "/api/azurehook", `{"request":{"host":"h"}}`)
			Expect(status).To(Equal(http.StatusBadRequest))
		})
	})

	Context("official categories", func() {
		It("should list the members of a category in name order", func() {
			server.StoreReference("sqldb", "reg/sqldb:1")
			server.StoreReference("httpserver", "reg/httpserver:1")

			status, body := server.AddOfficial("capability", "sqldb")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("Official capability sqldb added"))
			server.AddOfficial("capability", "httpserver")

			Expect(server.ListOfficial("capability")).To(Equal([]reference.Reference{
				{Name: "httpserver", URL: "reg/httpserver:1"},
				{Name: "sqldb", URL: "reg/sqldb:1"},
			}))
		})

		It("should drop members without a stored reference", func() {
			server.StoreReference("echo", "reg/echo:1")
			server.AddOfficial("actor", "echo")
			server.AddOfficial("actor", "ghost")

			Expect(server.ListOfficial("actor")).To(ConsistOf(reference.Reference{Name: "echo", URL: "reg/echo:1"}))
		})

		It("should remove members", func() {
			server.StoreReference("echo", "reg/echo:1")
			server.AddOfficial("actor", "echo")

			status, body := server.RemoveOfficial("actor", "echo")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("Official actor echo removed"))

			Expect(server.ListOfficial("actor")).To(BeEmpty())
		})

		It("should return an empty list for unknown categories", func() {
			status, body := server.Do(http.MethodGet, "/category?category=nothing", "")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("[]"))
		})

		It("should prefer the body over the query parameter", func() {
			server.StoreReference("a", "reg/a:1")
			server.AddOfficial("one", "a")

			status, body := server.Do(http.MethodGet, "/category?category=two", `{"category":"one"}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`"name":"a"`))
		})
	})

	Context("badges", func() {
		It("should render the fallback for unknown providers", func() {
			d := server.Badge("unknown")
			Expect(d).To(Equal(badge.ForURL("")))
		})

		It("should not cache badge responses", func() {
			resp, err := http.Get(server.BaseURL() + "/anything")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = resp.Body.Close() }()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))
		})
	})

	Context("unrouted requests", func() {
		DescribeTable("should answer 404 with an empty body",
			func(method, path string) {
				status, body := server.Do(method, path, "")
				Expect(status).To(Equal(http.StatusNotFound))
				Expect(body).To(BeEmpty())
			},
			Entry("PUT category", http.MethodPut, "/category"),
			Entry("DELETE badge", http.MethodDelete, "/foo"),
			Entry("POST unknown", http.MethodPost, "/api"),
		)
	})
})
