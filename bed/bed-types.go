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

package bed

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/exascience/rnaflow/utils"
)

// Bed is a struct for representing the contents of a BED file. See
// https://genome.ucsc.edu/FAQ/FAQformat.html#format1
type Bed struct {
	// Chromosome names in order of first appearance.
	Chroms []utils.Symbol
	// Maps chromosome name onto bed regions.
	RegionMap map[utils.Symbol][]*Region
}

// A Region is a struct for representing intervals as defined in a BED
// file. See https://genome.ucsc.edu/FAQ/FAQformat.html#format1
//
// Only the first six columns are interpreted. Any further columns are
// kept verbatim in Extra.
type Region struct {
	Chrom  utils.Symbol
	Start  int32
	End    int32
	Name   string
	Score  int
	Strand utils.Symbol
	Extra  []string
}

// Symbols for the strand field of a Region.
var (
	// Strand forward.
	SF = utils.Intern("+")
	// Strand reverse.
	SR = utils.Intern("-")
	// No strand.
	SN = utils.Intern(".")
)

// Valid bed region optional fields.
const (
	brName = iota
	brScore
	brStrand
	nofOptionalFields
)

// NewRegion allocates and initializes a new Region. Optional fields
// are given in order.
func NewRegion(chrom utils.Symbol, start int32, end int32, fields []string) (*Region, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid region %v:%v-%v", *chrom, start, end)
	}
	region := &Region{Chrom: chrom, Start: start, End: end, Strand: SN}
	for i, val := range fields {
		switch i {
		case brName:
			region.Name = val
		case brScore:
			score, err := strconv.Atoi(val)
			if err != nil || score < 0 || score > 1000 {
				return nil, fmt.Errorf("invalid Score field: %v", val)
			}
			region.Score = score
		case brStrand:
			if val != "+" && val != "-" && val != "." {
				return nil, fmt.Errorf("invalid Strand field: %v", val)
			}
			region.Strand = utils.Intern(val)
		}
	}
	if len(fields) > nofOptionalFields {
		region.Extra = append([]string(nil), fields[nofOptionalFields:]...)
	}
	return region, nil
}

// NewBed allocates and initializes an empty bed.
func NewBed() *Bed {
	return &Bed{
		RegionMap: make(map[utils.Symbol][]*Region),
	}
}

// AddRegion adds a region to the bed region map.
func (bed *Bed) AddRegion(region *Region) {
	if _, ok := bed.RegionMap[region.Chrom]; !ok {
		bed.Chroms = append(bed.Chroms, region.Chrom)
	}
	bed.RegionMap[region.Chrom] = append(bed.RegionMap[region.Chrom], region)
}

// Len returns the number of regions in bed.
func (bed *Bed) Len() (n int) {
	for _, regions := range bed.RegionMap {
		n += len(regions)
	}
	return n
}

// SortRegions sorts the regions of every chromosome by start and end
// position. The sort is stable.
func (bed *Bed) SortRegions() {
	for _, regions := range bed.RegionMap {
		sort.SliceStable(regions, func(i, j int) bool {
			if regions[i].Start != regions[j].Start {
				return regions[i].Start < regions[j].Start
			}
			return regions[i].End < regions[j].End
		})
	}
}
