package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/helmsman/internal/domain"
)

// policyFile is the YAML document shape for policy import.
type policyFile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Constraints struct {
		MaxSingleName float64 `yaml:"max_single_name"`
	} `yaml:"constraints"`
	Buckets []struct {
		Code         string   `yaml:"code"`
		Name         string   `yaml:"name"`
		Min          float64  `yaml:"min"`
		Target       float64  `yaml:"target"`
		Max          float64  `yaml:"max"`
		AssetClasses []string `yaml:"asset_classes"`
	} `yaml:"buckets"`
}

// Parse decodes a YAML policy document into a domain.Policy and validates
// it. The document is the operator-facing format for seeding policies.
func Parse(data []byte) (*domain.Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy yaml: %w", err)
	}

	p := &domain.Policy{
		ID:        pf.ID,
		Name:      pf.Name,
		CreatedAt: time.Now().UTC(),
	}
	p.Constraints.MaxSingleName = pf.Constraints.MaxSingleName
	for _, b := range pf.Buckets {
		p.Buckets = append(p.Buckets, domain.Bucket{
			Code:         b.Code,
			Name:         b.Name,
			Min:          b.Min,
			Target:       b.Target,
			Max:          b.Max,
			AssetClasses: b.AssetClasses,
		})
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ImportFile reads a YAML policy file and saves it through the repository.
func ImportFile(path string, repo *PolicyRepository) (*domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := repo.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}
