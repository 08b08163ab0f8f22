package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawProfile mirrors ModelProfile with pointers so absent keys can be told
// apart from zero values.
type rawProfile struct {
	ID                    *string   `yaml:"id"`
	Provider              *string   `yaml:"provider"`
	Model                 *string   `yaml:"model"`
	CostPer1kInputTokens  *float64  `yaml:"costPer1kInputTokens"`
	CostPer1kOutputTokens *float64  `yaml:"costPer1kOutputTokens"`
	MaxTokensPerCall      *int      `yaml:"maxTokensPerCall"`
	QualityTags           *[]string `yaml:"qualityTags"`
	DefaultUse            *[]string `yaml:"defaultUse"`
	Tier                  *int      `yaml:"tier"`
}

// ParseModelProfiles parses a `models:` YAML document. Any malformed or
// incomplete entry fails the whole catalog.
func ParseModelProfiles(data []byte) ([]ModelProfile, error) {
	var doc struct {
		Models *[]rawProfile `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse model profiles: %w", err)
	}
	if doc.Models == nil {
		return nil, errors.New("failed to parse model profiles: missing or invalid models array")
	}

	profiles := make([]ModelProfile, 0, len(*doc.Models))
	for i, raw := range *doc.Models {
		p, err := raw.validate()
		if err != nil {
			return nil, fmt.Errorf("failed to parse model profiles: entry %d: %w", i, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// LoadModelProfiles reads and parses a catalog file.
func LoadModelProfiles(path string) ([]ModelProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model profiles %s: %w", path, err)
	}
	return ParseModelProfiles(data)
}

func (r rawProfile) validate() (ModelProfile, error) {
	switch {
	case r.ID == nil || *r.ID == "":
		return ModelProfile{}, errors.New("missing or invalid model id")
	case r.Provider == nil || *r.Provider == "":
		return ModelProfile{}, errors.New("missing or invalid model provider")
	case r.Model == nil || *r.Model == "":
		return ModelProfile{}, errors.New("missing or invalid model name")
	case r.CostPer1kInputTokens == nil:
		return ModelProfile{}, errors.New("missing or invalid costPer1kInputTokens")
	case r.CostPer1kOutputTokens == nil:
		return ModelProfile{}, errors.New("missing or invalid costPer1kOutputTokens")
	case r.MaxTokensPerCall == nil:
		return ModelProfile{}, errors.New("missing or invalid maxTokensPerCall")
	case r.QualityTags == nil:
		return ModelProfile{}, errors.New("missing or invalid qualityTags array")
	case r.DefaultUse == nil:
		return ModelProfile{}, errors.New("missing or invalid defaultUse array")
	case r.Tier == nil:
		return ModelProfile{}, errors.New("missing or invalid tier")
	}

	return ModelProfile{
		ID:                    *r.ID,
		Provider:              *r.Provider,
		Model:                 *r.Model,
		CostPer1kInputTokens:  *r.CostPer1kInputTokens,
		CostPer1kOutputTokens: *r.CostPer1kOutputTokens,
		MaxTokensPerCall:      *r.MaxTokensPerCall,
		QualityTags:           *r.QualityTags,
		DefaultUse:            *r.DefaultUse,
		Tier:                  *r.Tier,
	}, nil
}

// FindModel returns the profile with the given ID.
func FindModel(models []ModelProfile, id string) (ModelProfile, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelProfile{}, false
}
