// Package graph keeps bridge entity mappings in Neo4j.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
)

const (
	driverPoolSize       = 20
	driverAcquireTimeout = 5 * time.Second
	verifyTimeout        = 10 * time.Second
)

// NewDriver opens a driver and checks the server is reachable. Without a password the
// server must run with auth disabled.
func NewDriver(ctx context.Context, url, username, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if username != "" && password != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(url, auth, func(c *config.Config) {
		c.MaxConnectionPoolSize = driverPoolSize
		c.ConnectionAcquisitionTimeout = driverAcquireTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j driver %s: %w", url, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("neo4j unreachable: %w", err)
	}
	return driver, nil
}
