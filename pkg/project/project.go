// Package project loads and validates eiko.toml, the per-project
// configuration file.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// Version is the Eikobot release version checked against the project's
// minimum version requirement.
const Version = "1.0.0"

// FileName is the project configuration file name.
const FileName = "eiko.toml"

// PackageRoot is the directory packages are installed into, appended to
// the module search path.
const PackageRoot = ".eikobot_modules"

// Settings are the project settings read from eiko.toml.
type Settings struct {
	// Exists reports whether an eiko.toml file was found.
	Exists bool `toml:"-"`

	// Version is the minimum Eikobot version constraint, e.g. ">=0.7".
	Version string `toml:"-"`

	// EntryPoint is the model file deployed by default.
	EntryPoint string `toml:"entry_point" validate:"omitempty,endswith=.eiko"`

	// DryRun makes every deploy a dry run.
	DryRun bool `toml:"dry_run"`

	// Requires lists package specs installed by `eikobot package install`.
	Requires []string `toml:"requires" validate:"dive,min=1"`

	// SSHTimeout bounds remote command execution, in seconds.
	SSHTimeout int `toml:"ssh_timeout" validate:"gte=0"`
}

type tomlFile struct {
	Eiko struct {
		Version string   `toml:"version"`
		Project Settings `toml:"project"`
	} `toml:"eiko"`
}

var validate = validator.New()

// Defaults returns the settings used when no project file exists.
func Defaults() *Settings {
	return &Settings{SSHTimeout: 3}
}

// Load reads eiko.toml from dir. A missing file yields defaults; a
// malformed or incompatible one is an error.
func Load(dir string) (*Settings, error) {
	path := filepath.Join(dir, FileName)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Msg("reading project file")

	var file tomlFile
	file.Eiko.Project = *Defaults()
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	settings := file.Eiko.Project
	settings.Exists = true
	settings.Version = file.Eiko.Version

	if err := validate.Struct(&settings); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}

	if settings.Version != "" {
		ok, err := versionMatches(settings.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf(
				"project requires eikobot %s, this is %s", settings.Version, Version)
		}
	}
	return &settings, nil
}

// versionMatches checks the running version against a constraint string;
// a bare version means ">=".
func versionMatches(constraint string) (bool, error) {
	text := strings.TrimSpace(constraint)
	if text != "" && text[0] >= '0' && text[0] <= '9' {
		text = ">=" + text
	}
	c, err := semver.NewConstraint(text)
	if err != nil {
		return false, fmt.Errorf("failed to parse version constraint %q: %w", constraint, err)
	}
	current, err := semver.NewVersion(Version)
	if err != nil {
		return false, err
	}
	return c.Check(current), nil
}

// Init scaffolds a new project in dir: an eiko.toml and a hello model.
func Init(dir string) error {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", FileName)
	}

	content := fmt.Sprintf(`[eiko]
version = ">=%s"

[eiko.project]
entry_point = "main.eiko"
dry_run = false
ssh_timeout = 3
requires = []
`, Version)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}

	model := `resource Greeting:
    name: str
    message: str = "hello"

Greeting("world")
`
	modelPath := filepath.Join(dir, "main.eiko")
	if _, err := os.Stat(modelPath); err == nil {
		return nil
	}
	return os.WriteFile(modelPath, []byte(model), 0o644)
}
