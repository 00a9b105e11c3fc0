package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/onsi/gomega"
)

// WriteConfig writes a YAML configuration into dir and returns its path
func WriteConfig(dir, content string) string {
	path := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(path, []byte(content), 0o600)).To(gomega.Succeed())
	return path
}

// MemoryConfig keeps references in process memory
func MemoryConfig() string {
	return "storage:\n  type: memory\n"
}

// BoltConfig stores references in the bbolt file at path
func BoltConfig(path string) string {
	return fmt.Sprintf("storage:\n  type: bolt\n  bolt:\n    path: %q\n", path)
}

// RedisConfig stores references in the Redis server at addr, with official
// sets under setPrefix
func RedisConfig(addr, setPrefix string) string {
	return fmt.Sprintf("storage:\n  type: redis\n  setPrefix: %s\n  redis:\n    address: %q\n", setPrefix, addr)
}

// AzurePushEvent renders a registry push event the way the registry sends it
func AzurePushEvent(host, repository, tag string) string {
	return fmt.Sprintf(`{
  "id": "cb8c3971-9adc-488b-bdd8-43cbb4974ff5",
  "timestamp": "2017-11-17T16:52:01.343145347Z",
  "action": "push",
  "target": {
    "mediaType": "application/vnd.docker.distribution.manifest.v2+json",
    "size": 524,
    "digest": "sha256:80f0d5c8786bb9e621a45ece0db56d11cdc624ad20da9fe62e9d25490f331d7d",
    "length": 524,
    "repository": %q,
    "tag": %q
  },
  "request": {
    "id": "3cbb6949-7549-4fa1-86cd-a6d5451dffc7",
    "host": %q,
    "method": "PUT",
    "useragent": "docker/17.09.0-ce go/go1.8.3"
  }
}`, repository, tag, host)
}
