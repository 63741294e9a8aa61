package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir       = "route"
	legacyAppDir = "codex-route"

	// HomeEnv overrides the root directory.
	HomeEnv = "ROUTE_HOME"
)

// Paths lists every file route-cli reads or writes.
type Paths struct {
	Root              string
	Config            string
	SubscriptionCache string
	GeneratedDir      string
	SingBoxConfig     string
	CoreLog           string
	StateDB           string
}

func PathsAt(root string) Paths {
	gen := filepath.Join(root, "generated")
	return Paths{
		Root:              root,
		Config:            filepath.Join(root, "config.yaml"),
		SubscriptionCache: filepath.Join(root, "cache", "subscription.yaml"),
		GeneratedDir:      gen,
		SingBoxConfig:     filepath.Join(gen, "sing-box.json"),
		CoreLog:           filepath.Join(gen, "sing-box.log"),
		StateDB:           filepath.Join(root, "state.db"),
	}
}

// Discover picks the root: override, then $ROUTE_HOME, then the user config
// directory. Only the last one is eligible for the legacy migration.
func Discover(override string) (Paths, error) {
	if s := strings.TrimSpace(override); s != "" {
		return PathsAt(s), nil
	}
	if s := strings.TrimSpace(os.Getenv(HomeEnv)); s != "" {
		return PathsAt(s), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("locate config directory: %w", err)
	}
	root := filepath.Join(base, appDir)
	if err := MigrateLegacy(filepath.Join(base, legacyAppDir), root); err != nil {
		return Paths{}, err
	}
	return PathsAt(root), nil
}

func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Root, filepath.Dir(p.SubscriptionCache), p.GeneratedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// MigrateLegacy copies legacy to root once, when root does not exist yet.
func MigrateLegacy(legacy, root string) error {
	if _, err := os.Stat(root); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fi, err := os.Stat(legacy)
	if err != nil || !fi.IsDir() {
		return nil
	}
	if err := copyDir(legacy, root); err != nil {
		return fmt.Errorf("migrate %s to %s: %w", legacy, root, err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// WriteFileAtomic replaces path with data via a temp file in the same
// directory and a rename, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// ReadCache returns the cached subscription document. ok is false when no
// cache has been written yet.
func ReadCache(p Paths) (raw []byte, ok bool, err error) {
	raw, err = os.ReadFile(p.SubscriptionCache)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func WriteCache(p Paths, raw []byte) error {
	return WriteFileAtomic(p.SubscriptionCache, raw, 0o600)
}
