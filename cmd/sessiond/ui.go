package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/salestroopz/sessiond"
)

// cliUI stands in for the desktop window: it logs the session signal and,
// on failure, writes the diagnostic page for the shell to load.
type cliUI struct {
	log      *slog.Logger
	pagePath string
}

func newCLIUI(log *slog.Logger, pagePath string) *cliUI {
	return &cliUI{log: log, pagePath: pagePath}
}

func (u *cliUI) OnReady() {
	u.log.Info("ui: load application")
}

func (u *cliUI) OnReadinessFailed(err error) {
	u.log.Error("ui: readiness failed", "error", err)
	if u.pagePath == "" {
		return
	}
	if mkErr := os.MkdirAll(filepath.Dir(u.pagePath), 0o750); mkErr != nil {
		u.log.Warn("diagnostic page not written", "error", mkErr)
		return
	}
	if wErr := os.WriteFile(u.pagePath, []byte(sessiond.DiagnosticPage(err)), 0o600); wErr != nil {
		u.log.Warn("diagnostic page not written", "error", wErr)
		return
	}
	u.log.Info("ui: diagnostic page written", "path", u.pagePath)
}

func diagnosticPath(cfg *sessiond.Config, flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.DataDir != "" {
		return filepath.Join(cfg.DataDir, "diagnostic.html")
	}
	return filepath.Join(os.TempDir(), "sessiond-diagnostic.html")
}
