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

package internal

import (
	"os"
	"path/filepath"
	"strings"
)

// FullPathname returns filename as an absolute path relative to the
// current working directory.
func FullPathname(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filename, nil
	}
	wd, err := os.Getwd()
	return filepath.Join(wd, filename), err
}

// Scheme returns the scheme of a location of the form scheme://rest,
// or the empty string if location carries no scheme.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	for _, c := range location[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '+', c == '-', c == '.':
		default:
			return ""
		}
	}
	return strings.ToLower(location[:i])
}

// ResolveLocation resolves location against dir, unless location is
// already absolute or carries a scheme, in which case it is returned
// verbatim.
func ResolveLocation(dir, location string) string {
	if filepath.IsAbs(location) || Scheme(location) != "" {
		return location
	}
	return filepath.Join(dir, location)
}
