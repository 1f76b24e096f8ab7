package reference

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// File is the on-disk shape of reference data: workflows, formulas and the
// station assignments of each actor.
type File struct {
	Workflows []domain.Workflow   `yaml:"workflows"`
	Formulas  []domain.Formula    `yaml:"formulas"`
	Stations  map[string][]string `yaml:"stations"`
}

func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	return &f, nil
}

func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data %s: %w", path, err)
	}
	return ParseFile(data)
}

// Load registers every workflow and formula and grants the station
// assignments. Registration stops at the first invalid record.
func (f *File) Load(catalog *Catalog, access *StationAccess) error {
	for _, formula := range f.Formulas {
		if err := catalog.RegisterFormula(formula); err != nil {
			return err
		}
	}
	for _, workflow := range f.Workflows {
		if err := catalog.RegisterWorkflow(workflow); err != nil {
			return err
		}
	}
	if access != nil {
		for actor, stations := range f.Stations {
			access.Grant(actor, stations...)
		}
	}
	return nil
}

// Validate cross-checks that BOM links in workflow steps resolve to an item
// in at least one formula of the file.
func (f *File) Validate() error {
	items := make(map[string]struct{})
	for _, formula := range f.Formulas {
		for _, item := range formula.Items {
			items[item.ID] = struct{}{}
		}
	}
	for _, workflow := range f.Workflows {
		for _, step := range workflow.Steps {
			if step.FormulaBOMID == "" {
				continue
			}
			if _, ok := items[step.FormulaBOMID]; !ok {
				return fmt.Errorf("workflow %s step %s: bom item %s: %w", workflow.ID, step.ID, step.FormulaBOMID, domain.ErrNotFound)
			}
		}
	}
	return nil
}
