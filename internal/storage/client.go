// Package storage provides the Elasticsearch delivery sink for collected
// content.
package storage

import (
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/buremba/owletto-crawlers/internal/logger"
)

// Config holds Elasticsearch connection configuration.
type Config struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
}

// NewClient creates an Elasticsearch client and verifies connectivity.
func NewClient(cfg Config, log logger.Interface) (*es.Client, error) {
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := client.Ping()
	if err != nil {
		return nil, fmt.Errorf("failed to ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error pinging elasticsearch: %s", res.String())
	}

	if log != nil {
		log.Debug("connected to elasticsearch", "addresses", cfg.Addresses)
	}
	return client, nil
}
