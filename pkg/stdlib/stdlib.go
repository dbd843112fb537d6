// Package stdlib ships the std Eiko module: its source files, the host
// plugins they use, and the handlers deploying std resources.
package stdlib

import (
	"embed"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/types"
)

//go:embed all:modules
var moduleFS embed.FS

// sshTimeout is the per-host remote command timeout, set from the
// project settings before deployment.
var sshTimeout atomic.Int64

func init() {
	sshTimeout.Store(int64(3 * time.Second))
	registerPlugins(plugin.Default)
	registerHandlers(plugin.Default)
}

// SetSSHTimeout installs the project's ssh timeout.
func SetSSHTimeout(d time.Duration) {
	sshTimeout.Store(int64(d))
}

// SSHTimeout returns the configured remote command timeout.
func SSHTimeout() time.Duration {
	return time.Duration(sshTimeout.Load())
}

// Materialize writes the embedded std module sources into a package root
// the module resolver can search, and returns that root.
func Materialize() (string, error) {
	root := filepath.Join(os.TempDir(), "eikobot-std")

	err := fs.WalkDir(moduleFS, "modules", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel("modules", path)
		if rerr != nil {
			return rerr
		}
		target := filepath.Join(root, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		content, rerr := moduleFS.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		return os.WriteFile(target, content, 0o644)
	})
	if err != nil {
		return "", err
	}
	return root, nil
}

// registerPlugins exposes the std host functions to Eiko source.
func registerPlugins(registry *plugin.Registry) {
	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "is_ipv4",
		Module: "std",
		Params: []plugin.Param{{Name: "value", Type: types.Str}},
		Return: types.Bool,
		Fn: func(args []any) (any, error) {
			ip := net.ParseIP(args[0].(string))
			return ip != nil && ip.To4() != nil, nil
		},
	})

	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "is_ipv6",
		Module: "std",
		Params: []plugin.Param{{Name: "value", Type: types.Str}},
		Return: types.Bool,
		Fn: func(args []any) (any, error) {
			ip := net.ParseIP(args[0].(string))
			return ip != nil && ip.To4() == nil, nil
		},
	})

	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "get_env",
		Module: "std",
		Params: []plugin.Param{{Name: "name", Type: types.Str}},
		Return: types.Str,
		Fn: func(args []any) (any, error) {
			return os.Getenv(args[0].(string)), nil
		},
	})

	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "regex_match",
		Module: "std",
		Params: []plugin.Param{
			{Name: "pattern", Type: types.Str},
			{Name: "value", Type: types.Str},
		},
		Return: types.Bool,
		Fn: func(args []any) (any, error) {
			matched, err := regexp.MatchString(args[0].(string), args[1].(string))
			if err != nil {
				return nil, plugin.NewUserError("invalid regex %q: %v", args[0], err)
			}
			return matched, nil
		},
	})

	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "render_template",
		Module: "std",
		Params: []plugin.Param{
			{Name: "template", Type: types.Str},
			{Name: "values", Type: types.NewDict(types.Str, types.Str)},
		},
		Return: types.Str,
		Fn:     renderTemplate,
	})
}
