package clusterconfig

import (
	"fmt"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client, creating it from the default
// settings on first use.
func Default() (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient != nil {
		return defaultClient, nil
	}
	c, err := New()
	if err != nil {
		return nil, fmt.Errorf("failed to create default client: %w", err)
	}
	defaultClient = c
	return c, nil
}

// TrySetDefault installs c as the process-wide client. It returns false
// if a default client already exists, whether set earlier or created by
// Default.
func TrySetDefault(c *Client) bool {
	if c == nil {
		return false
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient != nil {
		return false
	}
	defaultClient = c
	return true
}
