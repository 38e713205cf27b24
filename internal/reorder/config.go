package reorder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// OddPolicy decides what happens when the partitionable set has an odd size.
type OddPolicy string

const (
	// OddStrict rejects odd counts with ErrOddFileCount.
	OddStrict OddPolicy = "strict"
	// OddRoundUp gives the extra file to the left side.
	OddRoundUp OddPolicy = "round-up"
)

// DefaultNamingFormat renders positions as four zero-padded digits.
const DefaultNamingFormat = "%04d"

// TempPrefix marks names written during the renumbering pass.
const TempPrefix = "goobi_"

// Config is the resolved option set for a single run.
type Config struct {
	SourceDir        string
	TargetDir        string
	UsePrefix        bool
	FirstFileIsRight bool
	NamingFormat     string
	Blacklist        []string
	OddPolicy        OddPolicy
	// DryRun computes the plan without touching the filesystem.
	DryRun bool
}

// DefaultConfig returns the plugin defaults for the given directories.
func DefaultConfig(sourceDir, targetDir string) Config {
	return Config{
		SourceDir:    sourceDir,
		TargetDir:    targetDir,
		UsePrefix:    true,
		NamingFormat: DefaultNamingFormat,
		OddPolicy:    OddStrict,
	}
}

var intVerb = regexp.MustCompile(`%[-+ 0]*[0-9]*d`)

// Validate normalises cfg in place and reports the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SourceDir) == "" {
		return configError("source directory is empty")
	}
	if strings.TrimSpace(c.TargetDir) == "" {
		c.TargetDir = c.SourceDir
	}
	c.SourceDir = filepath.Clean(c.SourceDir)
	c.TargetDir = filepath.Clean(c.TargetDir)

	if c.NamingFormat == "" {
		c.NamingFormat = DefaultNamingFormat
	}
	if err := validateNamingFormat(c.NamingFormat); err != nil {
		return err
	}

	switch c.OddPolicy {
	case "":
		c.OddPolicy = OddStrict
	case OddStrict, OddRoundUp:
	default:
		return configError("unknown odd policy %q", c.OddPolicy)
	}

	blacklist := c.Blacklist[:0:0]
	for _, b := range c.Blacklist {
		if b != "" {
			blacklist = append(blacklist, b)
		}
	}
	c.Blacklist = blacklist

	if c.Mirrored() {
		if within(c.SourceDir, c.TargetDir) || within(c.TargetDir, c.SourceDir) {
			return configError("target %s and source %s must not contain each other", c.TargetDir, c.SourceDir)
		}
	}
	return nil
}

// Mirrored reports whether the run copies the source into a distinct target.
func (c *Config) Mirrored() bool {
	return filepath.Clean(c.SourceDir) != filepath.Clean(c.TargetDir)
}

func validateNamingFormat(format string) error {
	if n := len(intVerb.FindAllString(strings.ReplaceAll(format, "%%", ""), -1)); n != 1 {
		return configError("naming format %q must contain exactly one integer verb, found %d", format, n)
	}
	out := fmt.Sprintf(format, 1)
	if strings.Contains(out, "%!") {
		return configError("naming format %q is malformed: %s", format, out)
	}
	if strings.ContainsAny(out, `/\`) {
		return configError("naming format %q renders a path separator", format)
	}
	return nil
}

// within reports whether child is parent or lies below it.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
