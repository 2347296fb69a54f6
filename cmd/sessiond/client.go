package main

import (
	"fmt"

	"github.com/salestroopz/sessiond"
	"github.com/salestroopz/sessiond/pkg/client"
)

// newClientFor resolves the control URL from flags, then config.
func newClientFor(g GlobalFlags) (*client.Client, error) {
	if g.ControlURL != "" {
		return client.New(client.Config{BaseURL: g.ControlURL, Timeout: g.Timeout}), nil
	}
	cfg, err := sessiond.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Control.Listen == "" {
		return nil, fmt.Errorf("control surface is disabled in config")
	}
	return client.New(client.Config{BaseURL: cfg.Control.Listen, Timeout: g.Timeout}), nil
}
