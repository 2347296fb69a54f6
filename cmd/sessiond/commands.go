package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/salestroopz/sessiond"
	"github.com/salestroopz/sessiond/internal/config"
	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/probe"
	"github.com/salestroopz/sessiond/pkg/client"
	"github.com/salestroopz/sessiond/pkg/template"
)

// runSession loads config, applies flag overrides and runs until shutdown.
func runSession(ctx context.Context, g GlobalFlags, f RunFlags, stderr io.Writer) error {
	cfg, err := sessiond.LoadConfig(g.ConfigPath)
	if err != nil {
		return err
	}
	if f.Profile != "" {
		cfg.Profile = config.Profile(f.Profile)
	}
	if f.Port > 0 {
		cfg.Port = f.Port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer := logger.New(cfg.Log, stderr)
	defer func() { _ = closer.Close() }()

	ui := newCLIUI(log, diagnosticPath(cfg, f.DiagnosticPath))
	app, err := sessiond.New(cfg, ui, sessiond.WithLogger(log))
	if err != nil {
		return err
	}
	log.Info("session starting", "profile", cfg.Profile, "port", cfg.Port, "processes", len(cfg.Processes))
	return app.Run(ctx)
}

func printStatus(ctx context.Context, c *client.Client, w io.Writer) error {
	snap, err := c.Status(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "state: %s", snap.State)
	if snap.RestartPending {
		_, _ = fmt.Fprint(w, " (restart pending)")
	}
	_, _ = fmt.Fprintln(w)
	for _, p := range snap.Processes {
		if p.Running {
			_, _ = fmt.Fprintf(w, "  %-12s running  pid=%-7d up=%-10s restarts=%d\n",
				p.Name, p.PID, time.Since(p.StartedAt).Truncate(time.Second), p.Restarts)
			continue
		}
		last := "-"
		if p.LastExit != nil {
			last = fmt.Sprintf("code=%d", p.LastExit.Code)
			if p.LastExit.Signal != "" {
				last = "signal=" + p.LastExit.Signal
			}
		}
		_, _ = fmt.Fprintf(w, "  %-12s stopped  last=%s restarts=%d\n", p.Name, last, p.Restarts)
	}
	return nil
}

func runProbe(ctx context.Context, f ProbeFlags, w io.Writer) error {
	var opts []probe.Option
	if f.Interval > 0 {
		opts = append(opts, probe.WithInterval(f.Interval))
	}
	res, err := probe.New(opts...).AwaitReady(ctx, probe.Target{URL: f.URL, Deadline: f.Timeout})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s ready: status %d after %d attempt(s) in %s\n",
		f.URL, res.Status, res.Attempts, res.Elapsed.Truncate(time.Millisecond))
	return nil
}

func runInit(f InitFlags, w io.Writer) error {
	if !f.Force {
		if _, err := os.Stat(f.Output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", f.Output)
		}
	}
	g := template.NewGenerator()
	tpl, err := g.Generate(template.TemplateType(f.Type))
	if err != nil {
		return fmt.Errorf("%w (supported: %s)", err, strings.Join(g.GetSupportedTypes(), ", "))
	}
	if err := g.WriteTOML(tpl, f.Output); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "wrote %s config to %s\n", f.Type, f.Output)
	return nil
}
