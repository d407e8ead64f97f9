// rnaflow: dataflow orchestration for RNA-seq sample processing.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/rnaflow/blob/master/LICENSE.txt>.

// Package references pairs genome, annotation, and pre-built index
// references by species.
package references

import (
	"path/filepath"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/fasta"
)

// ErrReference is returned for reference inputs that are rejected
// before they enter the pipeline graph.
var ErrReference = errors.New("invalid reference")

var (
	genomePattern     = regexp.MustCompile(`\.(fa|fasta|fna)(\.gz)?$`)
	annotationPattern = regexp.MustCompile(`\.(gtf|gff|gff3)(\.gz)?$`)
)

// A Species groups the references of one genome.
type Species struct {
	Key        string
	Genome     string
	Annotation string
	Index      string
}

// HasAnnotation reports whether an annotation is known for s.
func (s Species) HasAnnotation() bool { return s.Annotation != "" }

// HasIndex reports whether a pre-built alignment index is known for s.
func (s Species) HasIndex() bool { return s.Index != "" }

// SpeciesKey derives the species key from a genome file name.
func SpeciesKey(genome string) string {
	base := filepath.Base(genome)
	if loc := genomePattern.FindStringIndex(base); loc != nil {
		return base[:loc[0]]
	}
	return strings.TrimSuffix(base, ".gz")
}

// A Set holds the species of a run in command-line order.
type Set struct {
	species []Species
}

// Build pairs genomes, annotations, and indexes by position.
// Annotations and indexes may be omitted altogether, but if they are
// given, there must be exactly one per genome.
func Build(genomes, annotations, indexes []string) (*Set, error) {
	if len(genomes) == 0 {
		return nil, errors.Wrap(ErrReference, "no genome reference given")
	}
	if len(annotations) != 0 && len(annotations) != len(genomes) {
		return nil, errors.Wrapf(ErrReference, "%v annotations given for %v genomes", len(annotations), len(genomes))
	}
	if len(indexes) != 0 && len(indexes) != len(genomes) {
		return nil, errors.Wrapf(ErrReference, "%v indexes given for %v genomes", len(indexes), len(genomes))
	}
	set := &Set{}
	seen := make(map[string]bool)
	for i, genome := range genomes {
		if !genomePattern.MatchString(genome) {
			return nil, errors.Wrapf(ErrReference, "genome %v does not have a fasta extension", genome)
		}
		s := Species{Key: SpeciesKey(genome), Genome: genome}
		if seen[s.Key] {
			return nil, errors.Wrapf(ErrReference, "duplicate species %v", s.Key)
		}
		seen[s.Key] = true
		if len(annotations) != 0 {
			s.Annotation = annotations[i]
			if !annotationPattern.MatchString(s.Annotation) {
				return nil, errors.Wrapf(ErrReference, "annotation %v does not have a gtf or gff extension", s.Annotation)
			}
		}
		if len(indexes) != 0 {
			s.Index = indexes[i]
		}
		set.species = append(set.species, s)
	}
	return set, nil
}

// Primary returns the species that sample-level stages use.
func (set *Set) Primary() Species { return set.species[0] }

// All returns every species in order.
func (set *Set) All() []Species {
	return append([]Species(nil), set.species...)
}

// Lookup returns the species for key.
func (set *Set) Lookup(key string) (Species, bool) {
	for _, s := range set.species {
		if s.Key == key {
			return s, true
		}
	}
	return Species{}, false
}

// HasAnnotation reports whether every species has an annotation.
func (set *Set) HasAnnotation() bool {
	for _, s := range set.species {
		if !s.HasAnnotation() {
			return false
		}
	}
	return true
}

// HasIndex reports whether every species has a pre-built index.
func (set *Set) HasIndex() bool {
	for _, s := range set.species {
		if !s.HasIndex() {
			return false
		}
	}
	return true
}

// CheckExist verifies that every local reference file or directory
// exists.
func (set *Set) CheckExist(fs afero.Fs) error {
	for _, s := range set.species {
		for _, name := range []string{s.Genome, s.Annotation, s.Index} {
			if name == "" {
				continue
			}
			if ok, err := afero.Exists(fs, name); err != nil {
				return err
			} else if !ok {
				return errors.Wrapf(ErrReference, "%v does not exist", name)
			}
		}
	}
	return nil
}

// ChromSizes returns the chromosome sizes of the genome of s.
func (s Species) ChromSizes(fs afero.Fs) ([]fasta.Contig, error) {
	contigs, err := fasta.ChromSizes(fs, s.Genome)
	return contigs, errors.Wrapf(err, "while determining chromosome sizes of %v", s.Key)
}
