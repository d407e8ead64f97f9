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
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/exascience/rnaflow/utils"
)

func skipLine(line string) bool {
	return line == "" ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "track") ||
		strings.HasPrefix(line, "browser")
}

func parseRange(data []string) (start, end int32, err error) {
	s, err := strconv.ParseInt(data[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	e, err := strconv.ParseInt(data[2], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return int32(s), int32(e), nil
}

// ParseBed parses a BED file, which may be gzip compressed. See
// https://genome.ucsc.edu/FAQ/FAQformat.html#format1
func ParseBed(r io.Reader) (*Bed, error) {
	input, err := utils.HandleGzip(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	bed := NewBed()
	scanner := bufio.NewScanner(input)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if skipLine(line) {
			continue
		}
		data := strings.Split(line, "\t")
		if len(data) < 3 {
			return nil, errors.Errorf("invalid BED line %v: %v columns", lineNo, len(data))
		}
		start, end, err := parseRange(data)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid BED line %v", lineNo)
		}
		region, err := NewRegion(utils.Intern(data[0]), start, end, data[3:])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid BED line %v", lineNo)
		}
		bed.AddRegion(region)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	bed.SortRegions()
	return bed, nil
}

// AppendRegion appends the BED line of region to buf.
func AppendRegion(buf []byte, region *Region) []byte {
	buf = append(buf, *region.Chrom...)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(region.Start), 10)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(region.End), 10)
	buf = append(buf, '\t')
	buf = append(buf, region.Name...)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(region.Score), 10)
	buf = append(buf, '\t')
	buf = append(buf, *region.Strand...)
	for _, field := range region.Extra {
		buf = append(buf, '\t')
		buf = append(buf, field...)
	}
	return append(buf, '\n')
}

// WriteRegions writes regions as BED lines.
func WriteRegions(w io.Writer, regions []*Region) error {
	out := bufio.NewWriter(w)
	var buf []byte
	for _, region := range regions {
		buf = AppendRegion(buf[:0], region)
		if _, err := out.Write(buf); err != nil {
			return err
		}
	}
	return out.Flush()
}

// A GraphEntry is one line of a bedGraph file: a constant value over a
// half-open range of positions.
type GraphEntry struct {
	Chrom      utils.Symbol
	Start, End int32
	Value      float64
}

// ScanGraph reads a bedGraph file, which may be gzip compressed, and
// calls f for every data line in file order. Scanning stops at the
// first error returned by f. See
// https://genome.ucsc.edu/goldenPath/help/bedgraph.html
func ScanGraph(r io.Reader, f func(GraphEntry) error) error {
	input, err := utils.HandleGzip(bufio.NewReader(r))
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(input)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if skipLine(line) {
			continue
		}
		data := strings.Fields(line)
		if len(data) < 4 {
			return errors.Errorf("invalid bedGraph line %v: %v columns", lineNo, len(data))
		}
		start, end, err := parseRange(data)
		if err != nil || start < 0 || end < start {
			return errors.Errorf("invalid bedGraph line %v: bad range %v-%v", lineNo, data[1], data[2])
		}
		value, err := strconv.ParseFloat(data[3], 64)
		if err != nil {
			return errors.Wrapf(err, "invalid bedGraph line %v", lineNo)
		}
		if err := f(GraphEntry{Chrom: utils.Intern(data[0]), Start: start, End: end, Value: value}); err != nil {
			return err
		}
	}
	return scanner.Err()
}
