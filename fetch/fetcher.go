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

// Package fetch downloads remote inputs to their local names.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/exascience/rnaflow/internal"
)

// ErrExhausted is returned when none of the alternative sources of an
// input could be fetched.
var ErrExhausted = errors.New("all fetch sources exhausted")

// A Getter copies the object named by source to w.
type Getter interface {
	Get(ctx context.Context, source string, w io.Writer) error
}

// GetterFunc adapts an ordinary function to the Getter interface.
type GetterFunc func(ctx context.Context, source string, w io.Writer) error

// Get implements Getter.
func (f GetterFunc) Get(ctx context.Context, source string, w io.Writer) error {
	return f(ctx, source, w)
}

// A Fetcher tries alternative sources in order until one succeeds.
// Getters are selected by the scheme of a source; sources without a
// scheme are local files.
type Fetcher struct {
	getters map[string]Getter
	logger  log.Logger
}

// An Option configures a Fetcher.
type Option func(*Fetcher)

// WithGetter registers g for the given scheme.
func WithGetter(scheme string, g Getter) Option {
	return func(f *Fetcher) {
		f.getters[strings.ToLower(scheme)] = g
	}
}

// New returns a Fetcher that can copy local files, plus whatever the
// options register.
func New(logger log.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		getters: map[string]Getter{
			"":     GetterFunc(getFile),
			"file": GetterFunc(getFile),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch stores the first of the sources that can be fetched under
// dest, and returns that source. If dest already exists, it is reused
// and dest itself is returned.
func (f *Fetcher) Fetch(ctx context.Context, sources []string, dest string) (string, error) {
	if _, err := os.Stat(dest); err == nil {
		level.Info(f.logger).Log("msg", "reusing fetched file", "path", dest)
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return "", errors.Wrapf(err, "while creating directory for %v", dest)
	}
	var attempts []string
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := f.fetchOne(ctx, source, dest)
		if err == nil {
			level.Info(f.logger).Log("msg", "fetched", "source", source, "path", dest)
			return source, nil
		}
		level.Warn(f.logger).Log("msg", "fetch attempt failed", "source", source, "err", err)
		attempts = append(attempts, fmt.Sprintf("%v: %v", source, err))
	}
	if len(attempts) == 0 {
		return "", errors.Wrapf(ErrExhausted, "no sources for %v", dest)
	}
	return "", errors.Wrapf(ErrExhausted, "while fetching %v (%v)", dest, strings.Join(attempts, "; "))
}

func (f *Fetcher) fetchOne(ctx context.Context, source, dest string) (err error) {
	scheme := internal.Scheme(source)
	getter, ok := f.getters[scheme]
	if !ok {
		return fmt.Errorf("unsupported scheme %q", scheme)
	}
	pf, err := renameio.NewPendingFile(dest)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := pf.Cleanup(); err == nil {
			err = nerr
		}
	}()
	if err = getter.Get(ctx, source, pf); err != nil {
		return err
	}
	if err = pf.Chmod(0644); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

func getFile(_ context.Context, source string, w io.Writer) (err error) {
	source = strings.TrimPrefix(source, "file://")
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := in.Close(); err == nil {
			err = nerr
		}
	}()
	_, err = io.Copy(w, in)
	return err
}

// splitObject splits scheme://bucket/object into bucket and object.
func splitObject(source string) (bucket, object string, err error) {
	rest := source[strings.Index(source, "://")+3:]
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("invalid object location %q", source)
	}
	return rest[:i], rest[i+1:], nil
}
