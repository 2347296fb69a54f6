package env

import (
	"os"
	"sort"
	"strings"
)

// Overlay is a set of variables layered over the inherited environment.
type Overlay map[string]string

// ParseOverlay converts "K=V" pairs into an Overlay. Entries without '=' or
// with an empty key are dropped.
func ParseOverlay(pairs []string) Overlay {
	o := make(Overlay, len(pairs))
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			o[k] = v
		}
	}
	return o
}

// Pairs returns the overlay as sorted "K=V" entries.
func (o Overlay) Pairs() []string {
	out := make([]string, 0, len(o))
	for k, v := range o {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Env composes child environments: the caller's environment as a base, then
// session-wide variables, then per-process overlays.
type Env struct {
	Shared Overlay // session-wide variables (e.g. the shared port)
	base   Overlay // cached OS environment
}

func New() *Env {
	return &Env{Shared: make(Overlay)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = ParseOverlay(os.Environ())
}

// WithBase replaces the inherited base. Mostly useful in tests.
func (e *Env) WithBase(pairs []string) *Env {
	e.base = ParseOverlay(pairs)
	return e
}

// Set sets a session-wide variable.
func (e *Env) Set(k, v string) {
	if e.Shared == nil {
		e.Shared = make(Overlay)
	}
	e.Shared[k] = v
}

// Merge composes the final environment for one child:
// base (OS env) < shared variables < perProc overlay.
// ${VAR} references are expanded against the composed map (single pass).
// The result is sorted so that repeated launches produce identical environments.
func (e *Env) Merge(perProc []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Overlay, len(e.base)+len(e.Shared)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Shared {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range ParseOverlay(perProc) {
		m[k] = v
	}
	expanded := make(Overlay, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	return expanded.Pairs()
}

// Lookup returns the value of k in a composed environment slice.
func Lookup(pairs []string, k string) (string, bool) {
	for i := len(pairs) - 1; i >= 0; i-- {
		if kk, v, ok := split(pairs[i]); ok && kk == k {
			return v, true
		}
	}
	return "", false
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Overlay) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
