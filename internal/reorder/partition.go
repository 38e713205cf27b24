package reorder

import (
	"fmt"
	"strings"
)

// Partition holds the two sides of a split stack, each already in
// final reading order.
type Partition struct {
	Left  []PageFile // positions 1, 3, 5, ...
	Right []PageFile // positions 2, 4, 6, ...
}

// ExtractBlacklist moves every file whose name contains a blacklist entry
// into excluded. Entries are applied in order, so all matches of the first
// entry come before those of the second; within one entry files keep their
// listing order. A file matching several entries is excluded once.
func ExtractBlacklist(files []PageFile, blacklist []string) (partitionable, excluded []PageFile) {
	taken := make([]bool, len(files))
	for _, b := range blacklist {
		if b == "" {
			continue
		}
		for i, f := range files {
			if !taken[i] && strings.Contains(f.BaseName, b) {
				taken[i] = true
				excluded = append(excluded, f)
			}
		}
	}
	for i, f := range files {
		if !taken[i] {
			partitionable = append(partitionable, f)
		}
	}
	return partitionable, excluded
}

// StripBlacklist removes every occurrence of every entry from name.
func StripBlacklist(name string, blacklist []string) string {
	for _, b := range blacklist {
		if b != "" {
			name = strings.ReplaceAll(name, b, "")
		}
	}
	return name
}

// Split divides files at the midpoint. The first half of a split stack is
// always scanned in descending order, so it is reversed; it becomes the
// left side unless firstFileIsRight is set.
func Split(files []PageFile, firstFileIsRight bool, policy OddPolicy) (Partition, error) {
	n := len(files)
	mid := n / 2
	if n%2 != 0 {
		if policy != OddRoundUp {
			return Partition{}, newError(KindOddFileCount, "partition", "", fmt.Errorf("%d files", n))
		}
		// the left side takes the extra file
		if !firstFileIsRight {
			mid = n/2 + 1
		}
	}

	first := reversed(files[:mid])
	second := append([]PageFile(nil), files[mid:]...)

	if firstFileIsRight {
		return Partition{Left: second, Right: first}, nil
	}
	return Partition{Left: first, Right: second}, nil
}

func reversed(in []PageFile) []PageFile {
	out := make([]PageFile, len(in))
	for i, f := range in {
		out[len(in)-1-i] = f
	}
	return out
}
