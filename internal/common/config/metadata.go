package config

import (
	"context"
	"fmt"

	"cloud.google.com/go/compute/metadata"
)

// DiscoverProjectID fills ProjectID from the GCE metadata server when the
// environment did not set one. It is a no-op off GCE.
func (c *Config) DiscoverProjectID(ctx context.Context) error {
	if c.ProjectID != "" || !metadata.OnGCE() {
		return nil
	}
	id, err := metadata.ProjectIDWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read project id from metadata server: %w", err)
	}
	c.ProjectID = id
	return nil
}
