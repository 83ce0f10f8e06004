package instance

import (
	"os"

	"github.com/angelmondragon/picknest-core/pkg/env"
)

// GetID returns the worker instance identifier: PICKNEST_WORKER_ID, then the
// pod name, then the host name, then a fixed default.
func GetID() string {
	if id := env.First("", "PICKNEST_WORKER_ID", "POD_NAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
