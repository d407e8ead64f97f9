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

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	return string(data)
}

func TestFetchFallsBackInOrder(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/a/x.fq" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("@read1\nACGT\n+\nIIII\n"))
	}))
	defer srv.Close()

	f := New(log.NewNopLogger(), WithGetter("http", &HTTPGetter{Client: srv.Client()}))
	dest := filepath.Join(t.TempDir(), "fetch", "sample1_1.fq")
	sources := []string{srv.URL + "/a/x.fq", srv.URL + "/b/x.fq"}

	source, err := f.Fetch(context.Background(), sources, dest)
	require.NoError(t, err)
	assert.Equal(t, sources[1], source)
	assert.Equal(t, []string{"/a/x.fq", "/b/x.fq"}, hits)
	assert.Equal(t, "@read1\nACGT\n+\nIIII\n", readFile(t, dest))

	source, err = f.Fetch(context.Background(), sources, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, source, "existing files are reused")
	assert.Len(t, hits, 2)
}

func TestFetchExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := New(log.NewNopLogger(), WithGetter("http", &HTTPGetter{Client: srv.Client()}))
	dest := filepath.Join(t.TempDir(), "x.fq")
	_, err := f.Fetch(context.Background(), []string{srv.URL + "/x.fq", "ftp://host/x.fq"}, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Contains(t, err.Error(), "unsupported scheme")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no partial file may be left behind")

	_, err = f.Fetch(context.Background(), nil, dest)
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "reads.fq")
	require.NoError(t, os.WriteFile(src, []byte("local"), 0644))

	f := New(log.NewNopLogger())
	dest := filepath.Join(dir, "out", "reads.fq")
	source, err := f.Fetch(context.Background(), []string{"file://" + src}, dest)
	require.NoError(t, err)
	assert.Equal(t, "file://"+src, source)
	assert.Equal(t, "local", readFile(t, dest))
}

func TestFetchGCS(t *testing.T) {
	server, err := fakestorage.NewServerWithOptions(fakestorage.Options{
		InitialObjects: []fakestorage.Object{{
			ObjectAttrs: fakestorage.ObjectAttrs{BucketName: "reads", Name: "runs/x.fq"},
			Content:     []byte("from gcs"),
		}},
		NoListener: true,
	})
	require.NoError(t, err)
	defer server.Stop()

	f := New(log.NewNopLogger(), WithGetter("gs", &GCSGetter{Client: server.Client()}))
	dest := filepath.Join(t.TempDir(), "x.fq")
	source, err := f.Fetch(context.Background(), []string{"gs://reads/missing.fq", "gs://reads/runs/x.fq"}, dest)
	require.NoError(t, err)
	assert.Equal(t, "gs://reads/runs/x.fq", source)
	assert.Equal(t, "from gcs", readFile(t, dest))
}

func TestSplitObject(t *testing.T) {
	bucket, object, err := splitObject("s3://bucket/path/to/x.bam")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "path/to/x.bam", object)

	for _, bad := range []string{"s3://bucket", "s3://bucket/", "gs:///x"} {
		_, _, err := splitObject(bad)
		assert.Error(t, err, bad)
	}
}
