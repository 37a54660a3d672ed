// Package manifest handles jvmwasm.toml project configuration.
package manifest

import (
	"fmt"
	"go/token"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/jvmwasm/expr"
	"github.com/chazu/jvmwasm/highlevel"
	"github.com/chazu/jvmwasm/structure"
	"github.com/chazu/jvmwasm/wasm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "jvmwasm.toml"

// Manifest represents a jvmwasm.toml project configuration.
type Manifest struct {
	Project  Project  `toml:"project"`
	Codegen  Codegen  `toml:"codegen"`
	Memory   Memory   `toml:"memory"`
	Analysis Analysis `toml:"analysis"`
	Emit     Emit     `toml:"emit"`

	// Dir is the directory containing the jvmwasm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Codegen configures how high-level instructions lower.
type Codegen struct {
	PointerWidth  int  `toml:"pointer-width"`
	FieldCalls    bool `toml:"field-calls"`
	StackTraces   bool `toml:"stack-traces"`
	StackPushID   int  `toml:"stack-push-id"`
	ExportHelpers bool `toml:"export-helpers"`
}

// Memory configures the engine.
type Memory struct {
	InitialPages int    `toml:"initial-pages"`
	MaxPages     int    `toml:"max-pages"`
	MaxCallDepth int    `toml:"max-call-depth"`
	MaxSteps     uint64 `toml:"max-steps"`
}

// Analysis configures structural analysis.
type Analysis struct {
	MaxIterations  int    `toml:"max-iterations"`
	DuplicateLimit int    `toml:"duplicate-limit"`
	DumpDir        string `toml:"dump-dir"`
}

// Emit configures expression reconstruction and Go output.
type Emit struct {
	Package       string   `toml:"package"`
	Receiver      string   `toml:"receiver"`
	PureFunctions []string `toml:"pure-functions"`
	Fields        bool     `toml:"fields"`
}

// Default returns the configuration used when no jvmwasm.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses a jvmwasm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a jvmwasm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Codegen.PointerWidth == 0 {
		m.Codegen.PointerWidth = 32
	}
	if m.Memory.InitialPages <= 0 {
		m.Memory.InitialPages = 1
	}
	if m.Memory.MaxPages <= 0 {
		m.Memory.MaxPages = 256
	}
	if m.Analysis.MaxIterations <= 0 {
		m.Analysis.MaxIterations = structure.DefaultMaxIterations
	}
	if m.Analysis.DuplicateLimit <= 0 {
		m.Analysis.DuplicateLimit = structure.DefaultDuplicateLimit
	}
	if m.Emit.Package == "" {
		m.Emit.Package = PackageName(m.Project.Name)
	}
	if m.Emit.Receiver == "" {
		m.Emit.Receiver = ReceiverName(m.Project.Name)
	}
	if m.Emit.Receiver == "" {
		m.Emit.Receiver = "Instance"
	}
}

func (m *Manifest) validate() error {
	if w := m.Codegen.PointerWidth; w != 32 && w != 64 {
		return fmt.Errorf("codegen.pointer-width must be 32 or 64, got %d", w)
	}
	if m.Memory.MaxPages < m.Memory.InitialPages {
		return fmt.Errorf("memory.max-pages %d is below initial-pages %d", m.Memory.MaxPages, m.Memory.InitialPages)
	}
	if IsReservedName(m.Emit.Package) {
		return fmt.Errorf("emit.package %q is a reserved Go name", m.Emit.Package)
	}
	if IsReservedName(m.Emit.Receiver) {
		return fmt.Errorf("emit.receiver %q is a reserved Go name", m.Emit.Receiver)
	}
	if !token.IsIdentifier(m.Emit.Package) {
		return fmt.Errorf("emit.package %q is not a Go identifier", m.Emit.Package)
	}
	if !token.IsIdentifier(m.Emit.Receiver) {
		return fmt.Errorf("emit.receiver %q is not a Go identifier", m.Emit.Receiver)
	}
	return nil
}

// DumpDirPath returns the absolute dump directory, or "" when dumps are
// off.
func (m *Manifest) DumpDirPath() string {
	if m.Analysis.DumpDir == "" {
		return ""
	}
	if filepath.IsAbs(m.Analysis.DumpDir) {
		return m.Analysis.DumpDir
	}
	return filepath.Join(m.Dir, m.Analysis.DumpDir)
}

// HighLevel returns the lowering configuration.
func (m *Manifest) HighLevel() highlevel.Config {
	cfg := highlevel.DefaultConfig()
	cfg.Pointer64 = m.Codegen.PointerWidth == 64
	cfg.FieldCalls = m.Codegen.FieldCalls
	cfg.ExportHelpers = m.Codegen.ExportHelpers
	if m.Codegen.StackTraces {
		cfg.StackPushID = m.Codegen.StackPushID
	}
	return cfg
}

// Engine returns an engine configuration using resolver for dispatch.
func (m *Manifest) Engine(resolver wasm.Resolver) wasm.EngineConfig {
	return wasm.EngineConfig{
		InitialPages: m.Memory.InitialPages,
		MaxPages:     m.Memory.MaxPages,
		Pointer64:    m.Codegen.PointerWidth == 64,
		MaxCallDepth: m.Memory.MaxCallDepth,
		MaxSteps:     m.Memory.MaxSteps,
		Resolver:     resolver,
	}
}

// Structure returns the analysis options for the graph called name.
func (m *Manifest) Structure(name string) structure.Options {
	return structure.Options{
		Name:           name,
		MaxIterations:  m.Analysis.MaxIterations,
		DuplicateLimit: m.Analysis.DuplicateLimit,
		DumpDir:        m.DumpDirPath(),
	}
}

// Reconstruct returns the expression reconstruction options.
func (m *Manifest) Reconstruct() expr.Options {
	opts := expr.Options{
		StackTraces: m.Codegen.StackTraces,
		Fields:      m.Emit.Fields,
	}
	if len(m.Emit.PureFunctions) > 0 {
		opts.PureFunctions = make(map[string]bool, len(m.Emit.PureFunctions))
		for _, name := range m.Emit.PureFunctions {
			opts.PureFunctions[name] = true
		}
	}
	return opts
}

// Go returns the Go emission options.
func (m *Manifest) Go() expr.GoOptions {
	return expr.GoOptions{Package: m.Emit.Package, Receiver: m.Emit.Receiver}
}
