package metrics

import (
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"
)

// WriteTextfile writes the registry in the node-exporter textfile format. The
// write is atomic, so a collector never reads a half-written file.
func WriteTextfile(reg *prom.Registry, path string) error {
	if reg == nil || path == "" {
		return nil
	}
	if err := prom.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
