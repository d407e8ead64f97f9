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

// Package fasta reads sequence names and lengths from FASTA
// references and their FAI indexes.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/utils"
)

// FaiReference represents an entry in an FAI file.
type FaiReference struct {
	Name      string
	Length    int64
	Offset    int64
	LineBases int32
	LineWidth int32
}

// A Contig is a named reference sequence with its length.
type Contig struct {
	Name   string
	Length int64
}

// ParseFai parses an FAI file. Entries are returned in file order.
func ParseFai(fs afero.Fs, filename string) (fai []FaiReference, err error) {
	f, err := fs.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := f.Close(); err == nil {
			err = nerr
		}
	}()

	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		b := bytes.Split(scanner.Bytes(), []byte("\t"))
		if len(b) != 5 {
			return nil, fmt.Errorf("badly formatted fai file %v - invalid number of entries in line %v", filename, lineNo)
		}
		var ref FaiReference
		ref.Name = string(b[0])
		if ref.Length, err = strconv.ParseInt(string(b[1]), 10, 64); err != nil {
			return nil, fmt.Errorf("%v, in line %v of fai file %v", err, lineNo, filename)
		}
		if ref.Offset, err = strconv.ParseInt(string(b[2]), 10, 64); err != nil {
			return nil, fmt.Errorf("%v, in line %v of fai file %v", err, lineNo, filename)
		}
		lineBases, err := strconv.ParseInt(string(b[3]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%v, in line %v of fai file %v", err, lineNo, filename)
		}
		lineWidth, err := strconv.ParseInt(string(b[4]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%v, in line %v of fai file %v", err, lineNo, filename)
		}
		ref.LineBases, ref.LineWidth = int32(lineBases), int32(lineWidth)
		fai = append(fai, ref)
	}
	return fai, scanner.Err()
}

func contigFromHeader(b []byte) string {
	i := 1
	for ; i < len(b); i++ {
		if c := b[i]; c >= '!' && c <= '~' {
			break
		}
	}
	j := i + 1
	for ; j < len(b); j++ {
		if c := b[j]; c < '!' || c > '~' {
			break
		}
	}
	if j > len(b) {
		j = len(b)
	}
	return string(b[i:j])
}

// ScanLengths sequentially scans a FASTA file, which may be gzip or
// bgzf compressed, and returns the names and lengths of its
// sequences in file order.
func ScanLengths(r io.Reader, filename string) (contigs []Contig, err error) {
	input, err := utils.HandleGzip(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(input)
	scanner.Buffer(nil, 1<<24)
	current := -1
	for scanner.Scan() {
		b := bytes.TrimRight(scanner.Bytes(), "\r")
		switch {
		case len(b) == 0:
		case b[0] == '>':
			contigs = append(contigs, Contig{Name: contigFromHeader(b)})
			current = len(contigs) - 1
		case current < 0:
			return nil, fmt.Errorf("invalid fasta file %v - missing first header", filename)
		default:
			contigs[current].Length += int64(len(b))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(contigs) == 0 {
		return nil, fmt.Errorf("empty fasta file %v", filename)
	}
	return contigs, nil
}

// ChromSizes returns the sequence names and lengths of a FASTA
// reference. The FAI index next to the reference is used when it
// exists, and the reference itself is scanned otherwise.
func ChromSizes(fs afero.Fs, filename string) ([]Contig, error) {
	faiName := strings.TrimSuffix(filename, ".gz") + ".fai"
	if ok, _ := afero.Exists(fs, faiName); !ok {
		faiName = filename + ".fai"
	}
	if ok, _ := afero.Exists(fs, faiName); ok {
		fai, err := ParseFai(fs, faiName)
		if err != nil {
			return nil, err
		}
		contigs := make([]Contig, len(fai))
		for i, ref := range fai {
			contigs[i] = Contig{Name: ref.Name, Length: ref.Length}
		}
		return contigs, nil
	}
	f, err := fs.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	contigs, err := ScanLengths(f, filename)
	return contigs, errors.Wrapf(err, "while scanning %v", filename)
}

// WriteChromSizes writes contigs as tab-separated name and length
// lines.
func WriteChromSizes(w io.Writer, contigs []Contig) error {
	bw := bufio.NewWriter(w)
	for _, c := range contigs {
		if _, err := fmt.Fprintf(bw, "%v\t%v\n", c.Name, c.Length); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseChromSizes reads lines written by WriteChromSizes. Additional
// columns are ignored.
func ParseChromSizes(r io.Reader) (contigs []Contig, err error) {
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("invalid chromosome sizes in line %v", lineNo)
		}
		length, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%v, in line %v of chromosome sizes", err, lineNo)
		}
		contigs = append(contigs, Contig{Name: fields[0], Length: length})
	}
	return contigs, scanner.Err()
}
