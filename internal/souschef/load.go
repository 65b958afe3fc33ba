package souschef

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/workflow"
)

// LoadFile reads one YAML definition, applies its includes, and validates
// the result. Includes name sibling files whose fragments are overlaid in
// listed order, later fragments overwriting earlier keys; the definition's
// own keys win over every fragment.
func LoadFile(path string, reg *workflow.Registry) (*model.SousChef, error) {
	def, err := readDefinition(path)
	if err != nil {
		return nil, err
	}

	merged, err := applyIncludes(path, def)
	if err != nil {
		return nil, err
	}

	sc, err := Validate(merged, reg)
	if err != nil {
		var inv *InvalidError
		if errors.As(err, &inv) {
			inv.Path = path
			return nil, inv
		}
		return nil, fmt.Errorf("souschef: %s: %w", path, err)
	}
	return sc, nil
}

// LoadDir loads every .yaml/.yml definition directly under dir, skipping
// files prefixed with underscore (shared include fragments by convention).
func LoadDir(dir string, reg *workflow.Registry) ([]*model.SousChef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("souschef: read dir %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var chefs []*model.SousChef
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}
		sc, err := LoadFile(filepath.Join(dir, name), reg)
		if err != nil {
			return nil, err
		}
		chefs = append(chefs, sc)
	}
	return chefs, nil
}

func readDefinition(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("souschef: read %s: %w", path, err)
	}
	var def map[string]any
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("souschef: parse %s: %w", path, err)
	}
	if def == nil {
		return nil, fmt.Errorf("souschef: %s is empty", path)
	}
	return def, nil
}

func applyIncludes(path string, def map[string]any) (map[string]any, error) {
	rawIncludes, ok := def["includes"].([]any)
	if !ok || len(rawIncludes) == 0 {
		delete(def, "includes")
		return def, nil
	}

	dir := filepath.Dir(path)
	merged := map[string]any{}
	for _, raw := range rawIncludes {
		name, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("souschef: %s: includes entries must be file names", path)
		}
		fragment, err := readDefinition(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(&merged, fragment, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("souschef: %s: overlay include %s: %w", path, name, err)
		}
	}

	delete(def, "includes")
	if err := mergo.Merge(&merged, def, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("souschef: %s: overlay definition: %w", path, err)
	}
	return merged, nil
}
