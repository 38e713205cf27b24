// Package pluginconf reads the plugin configuration file and selects the
// block that applies to a project and workflow step.
package pluginconf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
)

// Wildcard matches any project or step.
const Wildcard = "*"

// AlgorithmStanford is the split-stack algorithm, the only one available.
const AlgorithmStanford = "stanford"

// ErrNoBlock is returned when no block matches a project and step.
var ErrNoBlock = errors.New("no configuration block matches")

// Block is one <config> entry. Pointer fields distinguish "unset" from
// an explicit false or empty value.
type Block struct {
	Project          []string `yaml:"project"`
	Step             []string `yaml:"step"`
	Algorithm        string   `yaml:"algorithm"`
	SourceFolder     string   `yaml:"sourceFolder"`
	TargetFolder     string   `yaml:"targetFolder"`
	UsePrefix        *bool    `yaml:"usePrefix"`
	FirstFileIsRight *bool    `yaml:"firstFileIsRight"`
	NamingFormat     string   `yaml:"namingFormat"`
	OddPolicy        string   `yaml:"oddPolicy"`
	Blacklist        []string `yaml:"blacklist"`
}

// File is the whole configuration document.
type File struct {
	Config []Block `yaml:"config"`
}

// Load reads and parses path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin config: %w", err)
	}
	return Parse(b)
}

// Parse decodes a configuration document.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse plugin config: %w", err)
	}
	return &f, nil
}

// Resolve picks the block for project and step. Precedence: exact project
// and step, any project with this step, this project with any step, then
// the catch-all block. Within a tier the first block in the file wins.
func (f *File) Resolve(project, step string) (Block, error) {
	tiers := [][2]string{
		{project, step},
		{Wildcard, step},
		{project, Wildcard},
		{Wildcard, Wildcard},
	}
	for _, tier := range tiers {
		for _, b := range f.Config {
			if contains(b.Project, tier[0]) && contains(b.Step, tier[1]) {
				return b, nil
			}
		}
	}
	return Block{}, fmt.Errorf("%w project %q step %q", ErrNoBlock, project, step)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}

// Process identifies the Goobi process whose image folders are reordered.
type Process struct {
	ID        int
	Title     string
	ImagesDir string
}

// Folder resolves a folder name from the configuration against the
// process images directory. {processtitle} and {processid} are replaced;
// absolute names are used as they are.
func (p Process) Folder(name string) string {
	name = strings.NewReplacer(
		"{processtitle}", p.Title,
		"{processid}", strconv.Itoa(p.ID),
	).Replace(name)
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(p.ImagesDir, name)
}

// Apply turns the block into an engine configuration for p. Unset fields
// keep the plugin defaults.
func (b Block) Apply(p Process) reorder.Config {
	source := b.SourceFolder
	if source == "" {
		source = "master"
	}
	target := b.TargetFolder
	if target == "" {
		target = "master"
	}
	cfg := reorder.DefaultConfig(p.Folder(source), p.Folder(target))

	if b.Algorithm != "" && b.Algorithm != AlgorithmStanford {
		log.Warn().Str("algorithm", b.Algorithm).Msg("unknown sorting algorithm, using stanford")
	}
	if b.UsePrefix != nil {
		cfg.UsePrefix = *b.UsePrefix
	}
	if b.FirstFileIsRight != nil {
		cfg.FirstFileIsRight = *b.FirstFileIsRight
	}
	if b.NamingFormat != "" {
		cfg.NamingFormat = b.NamingFormat
	}
	if b.OddPolicy != "" {
		cfg.OddPolicy = reorder.OddPolicy(b.OddPolicy)
	}
	cfg.Blacklist = append([]string(nil), b.Blacklist...)
	return cfg
}
