package integration

import (
	"path/filepath"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/ociref-server/internal/reference"
	"github.com/stacklok/ociref-server/test-integration/ociref-api/helpers"
)

var _ = Describe("Persistent storage", Label("api", "storage"), func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = createTempDir("ociref-storage-")
	})

	AfterEach(func() {
		cleanupTempDir(tempDir)
	})

	It("should keep references and categories across bolt restarts", Label("bolt"), func() {
		configPath := helpers.WriteConfig(tempDir, helpers.BoltConfig(filepath.Join(tempDir, "refs.db")))

		By("storing data in the first instance")
		first := helpers.NewServerTestHelper(ctx, configPath)
		Expect(first.StartServer()).To(Succeed())
		first.WaitForServerReady(10 * time.Second)
		first.StoreReference("httpserver", "reg/httpserver:1")
		first.AddOfficial("capability", "httpserver")
		Expect(first.StopServer()).To(Succeed())

		By("reading it back from a second instance")
		second := helpers.NewServerTestHelper(ctx, configPath)
		Expect(second.StartServer()).To(Succeed())
		defer func() { Expect(second.StopServer()).To(Succeed()) }()
		second.WaitForServerReady(10 * time.Second)

		Expect(second.Badge("httpserver").Message).To(Equal("reg/httpserver:1"))
		Expect(second.ListOfficial("capability")).To(Equal([]reference.Reference{
			{Name: "httpserver", URL: "reg/httpserver:1"},
		}))
	})

	Context("with redis", Label("redis"), func() {
		var (
			mr      *miniredis.Miniredis
			writer  *helpers.ServerTestHelper
			reader  *helpers.ServerTestHelper
			started []*helpers.ServerTestHelper
		)

		BeforeEach(func() {
			var err error
			mr, err = miniredis.Run()
			Expect(err).NotTo(HaveOccurred())

			configPath := helpers.WriteConfig(tempDir, helpers.RedisConfig(mr.Addr(), "curated"))
			writer = helpers.NewServerTestHelper(ctx, configPath)
			reader = helpers.NewServerTestHelper(ctx, configPath)
			started = nil
			for _, s := range []*helpers.ServerTestHelper{writer, reader} {
				Expect(s.StartServer()).To(Succeed())
				started = append(started, s)
				s.WaitForServerReady(10 * time.Second)
			}
		})

		AfterEach(func() {
			for _, s := range started {
				Expect(s.StopServer()).To(Succeed())
			}
			mr.Close()
		})

		It("should share state between replicas", func() {
			writer.PushEvent("wasmcloud.azurecr.io", "kvredis", "0.3.0")
			writer.AddOfficial("capability", "kvredis")

			Expect(reader.Badge("kvredis").Message).To(Equal("wasmcloud.azurecr.io/kvredis:0.3.0"))
			Expect(reader.ListOfficial("capability")).To(HaveLen(1))
		})

		It("should keep official sets under the configured prefix", func() {
			writer.StoreReference("echo", "reg/echo:1")
			writer.AddOfficial("actor", "echo")

			members, err := mr.Members("curated:actor")
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(ConsistOf("echo"))

			url, err := mr.Get("echo")
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("reg/echo:1"))
		})
	})
})
