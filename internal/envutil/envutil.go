// Package envutil edits KEY=VALUE environment slices without touching the
// process environment.
package envutil

import "strings"

func key(e string) string {
	if i := strings.IndexByte(e, '='); i >= 0 {
		return e[:i]
	}
	return e
}

// Get returns the value of key in env. The last entry wins, matching how
// exec.Cmd resolves duplicates.
func Get(env []string, k string) (string, bool) {
	prefix := k + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):], true
		}
	}
	return "", false
}

// Set returns a copy of env with k set to v, replacing every earlier
// occurrence of k.
func Set(env []string, k, v string) []string {
	out := Remove(env, k)
	return append(out, k+"="+v)
}

// Remove returns a copy of env without any entry named k.
func Remove(env []string, k string) []string {
	out := make([]string, 0, len(env)+1)
	for _, e := range env {
		if key(e) != k {
			out = append(out, e)
		}
	}
	return out
}

// RemoveFold returns a copy of env without any entry whose name equals one of
// keys ignoring case, so HTTP_PROXY also drops http_proxy.
func RemoveFold(env []string, keys ...string) []string {
	out := make([]string, 0, len(env))
next:
	for _, e := range env {
		k := key(e)
		for _, drop := range keys {
			if strings.EqualFold(k, drop) {
				continue next
			}
		}
		out = append(out, e)
	}
	return out
}

// Merge returns base with every entry of overrides applied in order.
// Overridden keys keep their position in base; new keys are appended.
func Merge(base, overrides []string) []string {
	idx := make(map[string]int, len(base))
	out := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		k := key(e)
		if i, ok := idx[k]; ok {
			out[i] = e
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	for _, e := range overrides {
		k := key(e)
		if i, ok := idx[k]; ok {
			out[i] = e
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	return out
}
