// Package seeddir loads and exposes the immutable seed cluster list every
// node (seed or peer) needs for self-identification and quorum math.
package seeddir

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gossipmesh/gossipmesh/internal/identity"
)

// Directory is the fixed, ordered seed cluster, loaded once at process
// start and never mutated afterward.
type Directory struct {
	seeds  []identity.ID
	quorum int
}

// Load parses a seed-list file at path: one seed per line, "host:port" or
// "host,port", blank lines and "#" comments ignored, whitespace trimmed.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seeddir: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a seed list from r, in the same format Load expects.
func Parse(r io.Reader) (*Directory, error) {
	var seeds []identity.ID

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, err := identity.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("seeddir: line %d: %w", lineNo, err)
		}
		seeds = append(seeds, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("seeddir: %w", err)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seeddir: seed list is empty")
	}

	return New(seeds), nil
}

// New builds a Directory directly from an ordered seed slice, computing
// quorum = floor(n/2)+1 once.
func New(seeds []identity.ID) *Directory {
	return &Directory{
		seeds:  append([]identity.ID(nil), seeds...),
		quorum: len(seeds)/2 + 1,
	}
}

// Seeds returns a defensive copy of the ordered seed list.
func (d *Directory) Seeds() []identity.ID {
	out := make([]identity.ID, len(d.seeds))
	copy(out, d.seeds)
	return out
}

// Count returns n_seeds.
func (d *Directory) Count() int {
	return len(d.seeds)
}

// Quorum returns the fixed seed_quorum = floor(n_seeds/2)+1.
func (d *Directory) Quorum() int {
	return d.quorum
}

// Contains reports whether id names one of the seeds, used by a process to
// determine which role it plays when its own identity is in the directory.
func (d *Directory) Contains(id identity.ID) bool {
	for _, s := range d.seeds {
		if s.Equal(id) {
			return true
		}
	}
	return false
}

// Others returns every seed but self, in order.
func (d *Directory) Others(self identity.ID) []identity.ID {
	return identity.Without(d.seeds, self)
}
