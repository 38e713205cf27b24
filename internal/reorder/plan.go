package reorder

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Operation is one staged rename.
type Operation struct {
	Source   string `json:"source"`
	Final    string `json:"final"`
	Position int    `json:"position"`
	Excluded bool   `json:"excluded,omitempty"`
}

// Plan is the complete set of renames for a working directory, computed
// before any file is touched.
type Plan struct {
	WorkingDir string
	Operations []Operation
	// Partitioned is the number of files split into left and right.
	Partitioned int
	Excluded    int
}

// FinalName builds the unprefixed destination name for page at position.
func FinalName(page PageFile, position int, cfg Config) string {
	var b strings.Builder
	if cfg.UsePrefix {
		b.WriteString(page.StablePrefix)
	}
	b.WriteString(fmt.Sprintf(cfg.NamingFormat, position))
	b.WriteString(page.Extension)
	return b.String()
}

// TempName is the name a file carries between the two rename phases.
func TempName(final string) string { return TempPrefix + final }

// buildPlan assigns positions to files listed from dir. Left gets the odd
// positions, right the even ones, excluded files follow sequentially.
func buildPlan(dir string, files []PageFile, cfg Config) (*Plan, error) {
	for _, f := range files {
		if strings.HasPrefix(f.BaseName, TempPrefix) {
			return nil, newError(KindReservedName, "plan", f.Path,
				fmt.Errorf("name already starts with %q", TempPrefix))
		}
	}

	partitionable, excluded := ExtractBlacklist(files, cfg.Blacklist)
	part, err := Split(partitionable, cfg.FirstFileIsRight, cfg.OddPolicy)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		WorkingDir:  dir,
		Operations:  make([]Operation, 0, len(files)),
		Partitioned: len(partitionable),
		Excluded:    len(excluded),
	}
	add := func(page PageFile, pos int, isExcluded bool) {
		plan.Operations = append(plan.Operations, Operation{
			Source:   page.Path,
			Final:    filepath.Join(dir, FinalName(page, pos, cfg)),
			Position: pos,
			Excluded: isExcluded,
		})
	}

	for i, p := range part.Left {
		add(p, 1+2*i, false)
	}
	for i, p := range part.Right {
		add(p, 2+2*i, false)
	}

	next := len(partitionable) + 1
	for _, p := range excluded {
		// the blacklist only renames the stem; the extension stays the source's
		restored := NewPageFile(filepath.Join(filepath.Dir(p.Path), StripBlacklist(p.BaseName, cfg.Blacklist)))
		restored.Path = p.Path
		restored.Extension = p.Extension
		add(restored, next, true)
		next++
	}

	if err := plan.checkUnique(); err != nil {
		return nil, err
	}
	return plan, nil
}

// checkUnique rejects plans where two files would end up with one name.
func (p *Plan) checkUnique() error {
	seen := make(map[string]string, len(p.Operations))
	for _, op := range p.Operations {
		if prev, ok := seen[op.Final]; ok {
			return newError(KindNameCollision, "plan", op.Final,
				fmt.Errorf("both %s and %s", filepath.Base(prev), filepath.Base(op.Source)))
		}
		seen[op.Final] = op.Source
	}
	return nil
}
