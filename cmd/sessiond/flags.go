package main

import "time"

const (
	defaultAPITimeout   = 10 * time.Second
	defaultProbeTimeout = 30 * time.Second
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	ControlURL string
	Timeout    time.Duration
}

type RunFlags struct {
	Profile        string
	Port           int
	DiagnosticPath string
}

type ProbeFlags struct {
	URL      string
	Timeout  time.Duration
	Interval time.Duration
}

type InitFlags struct {
	Type   string
	Output string
	Force  bool
}
