package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

// ProfileSpec is one interpreter profile as written in a profiles file.
// Unset fields inherit from the built-in profile named by Extends, or by
// Name when it matches a built-in.
type ProfileSpec struct {
	Name        string   `yaml:"name" toml:"name"`
	Extends     string   `yaml:"extends,omitempty" toml:"extends,omitempty"`
	Shell       string   `yaml:"shell,omitempty" toml:"shell,omitempty"`
	Args        []string `yaml:"args,omitempty" toml:"args,omitempty"`
	Env         []string `yaml:"env,omitempty" toml:"env,omitempty"`
	Dir         string   `yaml:"dir,omitempty" toml:"dir,omitempty"`
	InitCommand string   `yaml:"init_command,omitempty" toml:"init_command,omitempty"`
	ReadySignal string   `yaml:"ready_signal,omitempty" toml:"ready_signal,omitempty"`
	ExitCommand string   `yaml:"exit_command,omitempty" toml:"exit_command,omitempty"`
	StatusExpr  string   `yaml:"status_expr,omitempty" toml:"status_expr,omitempty"`
	LineEnding  string   `yaml:"line_ending,omitempty" toml:"line_ending,omitempty"`
	StripEcho   *bool    `yaml:"strip_echo,omitempty" toml:"strip_echo,omitempty"`
	DropBlank   *bool    `yaml:"drop_blank,omitempty" toml:"drop_blank,omitempty"`
	Transport   string   `yaml:"transport,omitempty" toml:"transport,omitempty"`
}

type profilesFile struct {
	Profiles []ProfileSpec `yaml:"profiles" toml:"profiles"`
}

// Profiles is the set of known interpreter profiles by name.
type Profiles map[string]shell.Profile

// BuiltinProfiles returns the profiles available without a profiles file.
func BuiltinProfiles() Profiles {
	sh := shell.DefaultProfile()

	bash := sh
	bash.Name = "bash"
	bash.Shell = "/bin/bash"
	bash.Args = []string{"--noprofile", "--norc"}

	// cmd echoes its prompt and input until "@echo off" takes effect, so
	// the echo of the init command itself is the ready line.
	cmd := shell.Profile{
		Name:        "cmd",
		Shell:       "cmd.exe",
		InitCommand: "@echo off",
		ReadySignal: "@echo off",
		ExitCommand: "exit",
		StatusExpr:  "%ERRORLEVEL%",
		LineEnding:  "\r\n",
		DropBlank:   true,
		Transport:   shell.TransportPipe,
	}

	pwsh := shell.Profile{
		Name:        "pwsh",
		Shell:       "pwsh",
		Args:        []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-Command", "-"},
		InitCommand: "echo " + shell.DefaultReadySignal,
		ReadySignal: shell.DefaultReadySignal,
		ExitCommand: "exit",
		StatusExpr:  "$LASTEXITCODE",
		LineEnding:  "\n",
		DropBlank:   true,
		Transport:   shell.TransportPipe,
	}

	return Profiles{
		sh.Name:   sh,
		bash.Name: bash,
		cmd.Name:  cmd,
		pwsh.Name: pwsh,
	}
}

// LoadProfiles returns the built-in profiles merged with those in path.
// The format follows the extension: .yaml, .yml or .toml. An empty path
// returns the built-ins only.
func LoadProfiles(path string) (Profiles, error) {
	profiles := BuiltinProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	specs, err := decodeProfiles(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, spec := range specs {
		p, err := profiles.resolve(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

func decodeProfiles(ext string, data []byte) ([]ProfileSpec, error) {
	var file profilesFile

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalWithOptions(data, &file, yaml.Strict()); err != nil {
			return nil, err
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&file); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported profiles file extension %q", ext)
	}
	return file.Profiles, nil
}

func (ps Profiles) resolve(spec ProfileSpec) (shell.Profile, error) {
	if spec.Name == "" {
		return shell.Profile{}, fmt.Errorf("profile without name")
	}

	base := spec.Extends
	if base == "" {
		base = spec.Name
	}
	p, ok := ps[base]
	if !ok && spec.Extends != "" {
		return shell.Profile{}, fmt.Errorf("profile %q extends unknown profile %q", spec.Name, spec.Extends)
	}
	if !ok && spec.Shell == "" {
		return shell.Profile{}, fmt.Errorf("profile %q has no shell", spec.Name)
	}

	p.Name = spec.Name
	overlay(&p.Shell, spec.Shell)
	overlay(&p.Dir, spec.Dir)
	overlay(&p.InitCommand, spec.InitCommand)
	overlay(&p.ReadySignal, spec.ReadySignal)
	overlay(&p.ExitCommand, spec.ExitCommand)
	overlay(&p.StatusExpr, spec.StatusExpr)
	overlay(&p.LineEnding, unescapeLineEnding(spec.LineEnding))
	overlay(&p.Transport, spec.Transport)
	if spec.Args != nil {
		p.Args = spec.Args
	}
	if spec.Env != nil {
		p.Env = spec.Env
	}
	if spec.StripEcho != nil {
		p.StripEcho = *spec.StripEcho
	}
	if spec.DropBlank != nil {
		p.DropBlank = *spec.DropBlank
	}

	if p.Transport != "" && p.Transport != shell.TransportPipe && p.Transport != shell.TransportPTY {
		return shell.Profile{}, fmt.Errorf("profile %q: unknown transport %q", p.Name, p.Transport)
	}
	return p, nil
}

// Get returns the profile called name with workDir applied when the
// profile sets no directory of its own.
func (ps Profiles) Get(name, workDir string) (shell.Profile, bool) {
	p, ok := ps[name]
	if !ok {
		return shell.Profile{}, false
	}
	if p.Dir == "" {
		p.Dir = workDir
	}
	return p, true
}

// Names returns the profile names in sorted order.
func (ps Profiles) Names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// unescapeLineEnding lets files spell line endings as "\n" or "\r\n".
func unescapeLineEnding(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(s)
}
