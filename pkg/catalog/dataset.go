package catalog

import "strings"

// Dataset is a named remote source. Source may contain glob wildcards;
// CachePath optionally pins the local location (for glob datasets it is a
// directory prefix for every match).
type Dataset struct {
	Name        string `yaml:"name" json:"name"`
	Source      string `yaml:"source" json:"source"`
	CachePath   string `yaml:"cache_path,omitempty" json:"cache_path,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// IsGlob reports whether Source names a wildcard pattern.
func (d Dataset) IsGlob() bool {
	return hasMeta(d.Source)
}

func (d Dataset) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return configError("", d.Source, "dataset name is required")
	}
	if strings.TrimSpace(d.Source) == "" {
		return configError(d.Name, "", "dataset source is required")
	}
	if d.IsGlob() {
		if _, err := splitPattern(d.Source); err != nil {
			return configError(d.Name, d.Source, "%v", err)
		}
	}
	return nil
}
