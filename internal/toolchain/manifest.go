package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/renameio"
)

const manifestName = "toolchain.json"

// Manifest records what was installed into a prefix.
type Manifest struct {
	ID          string    `json:"id" yaml:"id"`
	Target      string    `json:"target" yaml:"target"`
	Binutils    string    `json:"binutils" yaml:"binutils"`
	GCC         string    `json:"gcc" yaml:"gcc"`
	Libc        string    `json:"libc,omitempty" yaml:"libc,omitempty"`
	Kernel      string    `json:"kernel_headers,omitempty" yaml:"kernel_headers,omitempty"`
	Prefix      string    `json:"prefix" yaml:"prefix"`
	Sysroot     string    `json:"sysroot,omitempty" yaml:"sysroot,omitempty"`
	InstalledAt time.Time `json:"installed_at" yaml:"installed_at"`
}

// NewManifest describes tc installed at l.
func NewManifest(tc Toolchain, l Layout) Manifest {
	m := Manifest{
		ID:       tc.ID(),
		Target:   tc.Triple(),
		Binutils: tc.Binutils.String(),
		GCC:      tc.GCC.String(),
		Prefix:   l.Prefix,
	}
	if tc.Libc.Kind != "" {
		m.Libc = tc.Libc.String()
		m.Kernel = tc.KernelHeaders().String()
		m.Sysroot = l.Sysroot
	}
	return m
}

// WriteManifest stores m in the toolchain prefix.
func WriteManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(m.Prefix, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", m.Prefix, err)
	}
	path := filepath.Join(m.Prefix, manifestName)
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads the manifest of an installed toolchain.
func ReadManifest(l Layout) (Manifest, error) {
	path := filepath.Join(l.Prefix, manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}
