package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultManifestName is looked up inside the model directory when no
// manifest file is configured.
const DefaultManifestName = "pipeline.yaml"

// Stage locates one DRAGNN model: its master spec and checkpoint,
// relative to Dir.
type Stage struct {
	Dir        string `yaml:"dir"`
	Spec       string `yaml:"spec"`
	Checkpoint string `yaml:"checkpoint"`
}

// Manifest describes the segmenter and parser of a language resource set.
type Manifest struct {
	Segmenter Stage `yaml:"segmenter"`
	Parser    Stage `yaml:"parser"`
}

// DefaultManifest is the CoNLL 2017 layout.
func DefaultManifest() *Manifest {
	return &Manifest{
		Segmenter: Stage{Dir: "segmenter", Spec: "spec.textproto", Checkpoint: "checkpoint"},
		Parser:    Stage{Dir: ".", Spec: "parser_spec.textproto", Checkpoint: "checkpoint"},
	}
}

// LoadManifest reads path, or <modelDir>/pipeline.yaml when path is empty.
// A missing default file yields DefaultManifest. Fields left out of the
// file keep their defaults.
func LoadManifest(modelDir, path string) (*Manifest, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(modelDir, DefaultManifestName)
	}

	manifest := DefaultManifest()

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return manifest, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	return manifest, nil
}

// Resolve returns a copy with every stage directory made absolute against base.
func (m *Manifest) Resolve(base string) (*Manifest, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}

	resolved := *m
	for _, st := range []*Stage{&resolved.Segmenter, &resolved.Parser} {
		if !filepath.IsAbs(st.Dir) {
			st.Dir = filepath.Join(absBase, st.Dir)
		}
	}
	return &resolved, nil
}

// Check verifies that every spec and checkpoint named by the manifest exists.
func (m *Manifest) Check() error {
	stages := map[string]Stage{"segmenter": m.Segmenter, "parser": m.Parser}
	for _, name := range []string{"segmenter", "parser"} {
		st := stages[name]
		if st.Spec == "" || st.Checkpoint == "" {
			return fmt.Errorf("%s: spec and checkpoint are required", name)
		}
		if _, err := os.Stat(filepath.Join(st.Dir, st.Spec)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := checkCheckpoint(filepath.Join(st.Dir, st.Checkpoint)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// checkCheckpoint accepts a V1 checkpoint file or a V2 prefix with its
// .index file.
func checkCheckpoint(prefix string) error {
	if _, err := os.Stat(prefix); err == nil {
		return nil
	}
	_, err := os.Stat(prefix + ".index")
	return err
}
