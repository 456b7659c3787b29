package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fleetci/taskhub/internal/persistence"
)

// StarterRoles returns a small set of roles a fresh deployment can
// register on first run, covering the claims_from hint for each queue
// an orchestrator typically polls.
func StarterRoles() []persistence.Role {
	return []persistence.Role{
		{Name: "coder", ClaimsFrom: persistence.QueueIncoming},
		{Name: "reviewer", ClaimsFrom: persistence.QueueProvisional},
	}
}

// StarterFlows returns the default flow labels worth pre-registering so
// operators see them in GET /flows without an explicit POST first.
func StarterFlows() []persistence.Flow {
	return []persistence.Flow{
		{Name: "standard"},
	}
}

// rolesFile and flowsFile mirror the on-disk shape of roles.yaml and
// flows.yaml: a flat list under a single top-level key, editable by
// hand and picked up by the config watcher on save.
type rolesFile struct {
	Roles []persistence.Role `yaml:"roles"`
}

type flowsFile struct {
	Flows []persistence.Flow `yaml:"flows"`
}

// LoadRolesFile reads roles.yaml from homeDir. A missing file is not an
// error: it returns StarterRoles so a fresh deployment has something to
// register on first run.
func LoadRolesFile(homeDir string) ([]persistence.Role, error) {
	path := filepath.Join(homeDir, "roles.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StarterRoles(), nil
		}
		return nil, fmt.Errorf("read roles.yaml: %w", err)
	}
	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles.yaml: %w", err)
	}
	if len(f.Roles) == 0 {
		return StarterRoles(), nil
	}
	return f.Roles, nil
}

// LoadFlowsFile reads flows.yaml from homeDir, falling back to
// StarterFlows when absent or empty.
func LoadFlowsFile(homeDir string) ([]persistence.Flow, error) {
	path := filepath.Join(homeDir, "flows.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StarterFlows(), nil
		}
		return nil, fmt.Errorf("read flows.yaml: %w", err)
	}
	var f flowsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flows.yaml: %w", err)
	}
	if len(f.Flows) == 0 {
		return StarterFlows(), nil
	}
	return f.Flows, nil
}
