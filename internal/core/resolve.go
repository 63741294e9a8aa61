package core

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultPath is the configured value meaning "find sing-box on my own".
const DefaultPath = "sing-box"

// BundledDir is where a release ships its own core, relative to the working
// directory or to the route-cli executable.
var BundledDir = filepath.Join("tools", "sing-box")

// BinaryName is the core executable's file name on this platform.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return DefaultPath + ".exe"
	}
	return DefaultPath
}

// Attempt records one place the resolver looked.
type Attempt struct {
	Source string // "configured", "bundled", "PATH"
	Path   string
	Err    error
}

func (a Attempt) String() string {
	if a.Err == nil {
		return fmt.Sprintf("%s: %s (ok)", a.Source, a.Path)
	}
	return fmt.Sprintf("%s: %s (%v)", a.Source, a.Path, a.Err)
}

type Resolution struct {
	Path     string
	Attempts []Attempt
}

// Resolver locates the core executable. Zero-value fields fall back to the
// process's working directory, executable directory and exec.LookPath.
type Resolver struct {
	Configured string
	WorkDir    string
	ExeDir     string
	LookPath   func(file string) (string, error)
}

// Resolve checks, in order: an explicitly configured path, the bundled copy
// next to the working directory and then next to the executable, and finally
// PATH. Every attempt is returned, including on failure.
func (r Resolver) Resolve() (Resolution, error) {
	var res Resolution
	try := func(source, path string) bool {
		err := checkExecutable(path)
		res.Attempts = append(res.Attempts, Attempt{Source: source, Path: path, Err: err})
		if err == nil {
			res.Path = path
			return true
		}
		return false
	}

	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	tryLookPath := func(source, name string) bool {
		p, err := lookPath(name)
		if err != nil {
			res.Attempts = append(res.Attempts, Attempt{Source: source, Path: name, Err: err})
			return false
		}
		if abs, aerr := filepath.Abs(p); aerr == nil {
			p = abs
		}
		return try(source, p)
	}

	configured := strings.TrimSpace(r.Configured)
	if configured != "" && !isDefault(configured) {
		switch {
		case filepath.IsAbs(configured):
			if try("configured", configured) {
				return res, nil
			}
		case strings.ContainsAny(configured, `/\`):
			for _, dir := range r.baseDirs() {
				if try("configured", filepath.Join(dir, configured)) {
					return res, nil
				}
			}
		default:
			if tryLookPath("configured", configured) {
				return res, nil
			}
		}
	}

	for _, dir := range r.baseDirs() {
		if try("bundled", filepath.Join(dir, BundledDir, BinaryName())) {
			return res, nil
		}
	}

	name := BinaryName()
	if tryLookPath("PATH", name) {
		return res, nil
	}

	return res, newError("core_resolve", CodeUnavailable,
		fmt.Sprintf("proxy core %q not found", name),
		fmt.Sprintf("install sing-box into PATH, place it under %s, or set proxy_core.path", filepath.Join(BundledDir, BinaryName())),
		errors.New(lastAttempt(res.Attempts)))
}

func (r Resolver) baseDirs() []string {
	var dirs []string
	wd := r.WorkDir
	if wd == "" {
		wd, _ = os.Getwd()
	}
	if wd != "" {
		dirs = append(dirs, wd)
	}
	exeDir := r.ExeDir
	if exeDir == "" {
		if exe, err := os.Executable(); err == nil {
			exeDir = filepath.Dir(exe)
		}
	}
	if exeDir != "" && exeDir != wd {
		dirs = append(dirs, exeDir)
	}
	return dirs
}

func isDefault(p string) bool {
	return strings.EqualFold(p, DefaultPath) || strings.EqualFold(p, DefaultPath+".exe")
}

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("not found")
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	if runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0 {
		return errors.New("not executable")
	}
	return nil
}

func lastAttempt(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no candidate paths"
	}
	return attempts[len(attempts)-1].String()
}
