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

package utils

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleGzip(t *testing.T) {
	const text = "chr1\t0\t10\t1.5\n"
	var compressed bytes.Buffer
	w := pgzip.NewWriter(&compressed)
	_, err := w.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for name, input := range map[string]io.Reader{
		"plain":   strings.NewReader(text),
		"gzipped": &compressed,
	} {
		r, err := HandleGzip(bufio.NewReader(input))
		require.NoError(t, err, name)
		data, err := io.ReadAll(r)
		require.NoError(t, err, name)
		assert.Equal(t, text, string(data), name)
	}

	r, err := HandleGzip(bufio.NewReader(strings.NewReader("")))
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestIntern(t *testing.T) {
	a := Intern("chr" + "1")
	b := Intern(strings.Join([]string{"chr", "1"}, ""))
	assert.True(t, a == b)
	assert.Equal(t, "chr1", *a)
	assert.False(t, a == Intern("chr2"))
}
