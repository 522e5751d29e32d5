package assign

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atelierops/pulse/model"
)

// seedFile is the YAML shape of a directory seed file.
type seedFile struct {
	Users []model.User `yaml:"users"`
}

// LoadSeed populates the directory from a YAML file of users. Used by
// single-node deployments without an HR system integration.
func (d *MemoryDirectory) LoadSeed(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("directory seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("directory seed %s: %w", path, err)
	}
	for _, u := range seed.Users {
		if u.ID == "" {
			return fmt.Errorf("directory seed %s: user with empty id", path)
		}
		d.PutUser(u)
	}
	return nil
}
