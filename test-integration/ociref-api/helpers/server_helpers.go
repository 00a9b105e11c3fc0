// Package helpers drives a running reference server over HTTP for the
// integration suite.
package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/onsi/gomega"

	refapp "github.com/stacklok/ociref-server/internal/app"
	"github.com/stacklok/ociref-server/internal/badge"
	"github.com/stacklok/ociref-server/internal/config"
	"github.com/stacklok/ociref-server/internal/reference"
)

// ServerTestHelper manages the server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	address    string
	httpClient *http.Client
	app        *refapp.ReferenceApp
}

// NewServerTestHelper creates a helper that serves configPath on a free port
func NewServerTestHelper(ctx context.Context, configPath string) *ServerTestHelper {
	port := FreePort()
	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		address:    fmt.Sprintf("127.0.0.1:%d", port),
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FreePort returns a TCP port that was free when asked
func FreePort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port
}

// StartServer builds the application from the config file and starts it
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := refapp.NewReferenceApp(s.ctx,
		refapp.WithConfig(cfg),
		refapp.WithAddress(s.address),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	go func() {
		if err := app.Start(); err != nil {
			// The test fails when it tries to connect
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the server
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits until a badge request succeeds
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// Do sends a request with an optional body and returns the status and body
func (s *ServerTestHelper) Do(method, path, body string) (int, string) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.baseURL+path, reader)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return resp.StatusCode, string(data)
}

// StoreReference posts name and url to /api/reference
func (s *ServerTestHelper) StoreReference(name, refURL string) (int, string) {
	return s.Do(http.MethodPost, "/api/reference", mustJSON(reference.Reference{Name: name, URL: refURL}))
}

// PushEvent posts a registry push event to /api/azurehook
func (s *ServerTestHelper) PushEvent(host, repository, tag string) (int, string) {
	return s.Do(http.MethodPost, "/api/azurehook", AzurePushEvent(host, repository, tag))
}

// AddOfficial puts name in category
func (s *ServerTestHelper) AddOfficial(category, name string) (int, string) {
	return s.Do(http.MethodPost, "/category", mustJSON(map[string]string{"category": category, "name": name}))
}

// RemoveOfficial takes name out of category
func (s *ServerTestHelper) RemoveOfficial(category, name string) (int, string) {
	return s.Do(http.MethodDelete, "/category", mustJSON(map[string]string{"category": category, "name": name}))
}

// ListOfficial lists category through the query parameter form
func (s *ServerTestHelper) ListOfficial(category string) []reference.Reference {
	status, body := s.Do(http.MethodGet, "/category?category="+url.QueryEscape(category), "")
	gomega.Expect(status).To(gomega.Equal(http.StatusOK), body)

	var entries []reference.Reference
	gomega.Expect(json.Unmarshal([]byte(body), &entries)).To(gomega.Succeed())
	return entries
}

// Badge fetches the badge for name
func (s *ServerTestHelper) Badge(name string) badge.Descriptor {
	status, body := s.Do(http.MethodGet, "/"+name, "")
	gomega.Expect(status).To(gomega.Equal(http.StatusOK), body)

	var d badge.Descriptor
	gomega.Expect(json.Unmarshal([]byte(body), &d)).To(gomega.Succeed())
	return d
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return string(data)
}

// BaseURL returns the server root URL
func (s *ServerTestHelper) BaseURL() string {
	return s.baseURL
}
