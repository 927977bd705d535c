// Package config loads the optional YAML file that retargets the memory-map
// scanner at a library other than the built-in libc default.
package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v2"

	"github.com/ptrace-tools/genvtrace/internal/mapscan"
	"github.com/ptrace-tools/genvtrace/internal/traceerr"
)

// rawLibraryRule mirrors mapscan.Rule but with a plain string for the
// rejection regexp, since regexp.Regexp does not implement
// yaml.Unmarshaler.
type rawLibraryRule struct {
	Name                    string `yaml:"name"`
	MapsSubstring           string `yaml:"mapsSubstring"`
	RejectIfNextByteMatches string `yaml:"rejectIfNextByteMatches"`
}

type rawConfig struct {
	Library *rawLibraryRule `yaml:"library"`
}

// Load reads path and returns the library rule it describes. An empty path
// or a file with no "library" key returns mapscan.DefaultLibc unchanged.
func Load(path string) (mapscan.Rule, error) {
	if path == "" {
		return mapscan.DefaultLibc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return mapscan.Rule{}, &traceerr.ConfigError{Path: path, Err: err}
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return mapscan.Rule{}, &traceerr.ConfigError{Path: path, Err: err}
	}
	if raw.Library == nil {
		return mapscan.DefaultLibc, nil
	}

	rule := mapscan.Rule{
		Name:      raw.Library.Name,
		Substring: raw.Library.MapsSubstring,
	}
	if rule.Name == "" {
		rule.Name = mapscan.DefaultLibc.Name
	}
	if rule.Substring == "" {
		rule.Substring = mapscan.DefaultLibc.Substring
	}
	pattern := raw.Library.RejectIfNextByteMatches
	if pattern == "" {
		rule.RejectIfNextByteMatches = mapscan.DefaultLibc.RejectIfNextByteMatches
	} else {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return mapscan.Rule{}, &traceerr.ConfigError{Path: path, Err: err}
		}
		rule.RejectIfNextByteMatches = re
	}
	return rule, nil
}
