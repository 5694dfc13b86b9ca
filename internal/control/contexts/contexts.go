// Package contexts reads c2ctl's contexts file: named hubs the operator can
// switch between, kubeconfig style.
//
//	currentContext: studio
//	contexts:
//	  studio:
//	    host: c2.studio.example
//	    secure: true
//	    timeoutSeconds: 20
package contexts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
)

var ErrContextNotFound = errors.New("context not found")

// File is the decoded contexts file.
type File struct {
	CurrentContext string              `yaml:"currentContext"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// Context addresses one hub.
type Context struct {
	Host           string `yaml:"host"`
	APIHost        string `yaml:"apiHost,omitempty"`
	Secure         bool   `yaml:"secure,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// DefaultPath is $C2_CONFIG, or ~/.c2/config.
func DefaultPath() string {
	if v := os.Getenv("C2_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".c2", "config")
}

// Load decodes the file at path. A missing file or empty path yields
// (nil, nil).
func Load(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read contexts file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse contexts file %s: %w", path, err)
	}
	return &f, nil
}

// Save writes f to path, creating parent directories.
func (f *File) Save(path string) error {
	expanded, err := expandHome(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal contexts file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Resolve picks the named context, or the current one when name is empty.
// It returns nil when neither is set.
func (f *File) Resolve(name string) (*Context, error) {
	if f == nil {
		if name != "" {
			return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
		}
		return nil, nil
	}
	if name == "" {
		name = f.CurrentContext
	}
	if name == "" {
		return nil, nil
	}
	ctx, ok := f.Contexts[name]
	if !ok || ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	return ctx, nil
}

// Overrides are values the operator set explicitly on the command line.
// Nil fields were not set.
type Overrides struct {
	Host    *string
	Secure  *bool
	Timeout *time.Duration
}

// Apply layers ctx and then o over the environment's console settings.
func Apply(base config.ConsoleConfig, ctx *Context, o Overrides) config.ConsoleConfig {
	out := base
	if ctx != nil {
		if ctx.Host != "" {
			out.Host = ctx.Host
			out.APIHost = ctx.APIHost
		}
		if ctx.Secure {
			out.Secure = true
		}
		if ctx.TimeoutSeconds > 0 {
			out.Timeout = time.Duration(ctx.TimeoutSeconds) * time.Second
		}
	}
	if o.Host != nil {
		out.Host = *o.Host
		out.APIHost = ""
	}
	if o.Secure != nil {
		out.Secure = *o.Secure
	}
	if o.Timeout != nil {
		out.Timeout = *o.Timeout
	}
	return out
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}
