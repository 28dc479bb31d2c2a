package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clintrovert/excelsior/pkg/types"
)

// Config holds process-wide configuration.
type Config struct {
	OpenAIAPIKey string
	OpenAIModel  string
	RESTPort     string
	Projects     []types.ProjectConfig
}

type projectsFile struct {
	Projects []types.ProjectConfig `yaml:"projects"`
}

// Load reads configuration from the environment plus a YAML project list.
// The project list lives in a file because a flat env namespace cannot
// express multiple backend projects.
func Load() (*Config, error) {
	cfg := &Config{
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", ""),
		RESTPort:     getEnv("REST_PORT", "8080"),
	}

	path := getEnv("PROJECTS_FILE", "projects.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects file: %w", err)
	}

	var pf projectsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse projects file: %w", err)
	}

	if len(pf.Projects) == 0 {
		return nil, fmt.Errorf("no projects configured in %s", path)
	}

	seen := make(map[string]bool)
	for _, p := range pf.Projects {
		if p.ID == "" || p.BaseURL == "" || p.ProjectKey == "" {
			return nil, fmt.Errorf("project entry missing id, base_url or project_key")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate project id %s", p.ID)
		}
		seen[p.ID] = true
	}

	cfg.Projects = pf.Projects
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
