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
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cristalhq/hedgedhttp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// HTTPGetter fetches http and https sources.
type HTTPGetter struct {
	Client *http.Client
}

// NewHedgedHTTPGetter returns an HTTPGetter that sends a hedged request
// when the previous one takes longer than timeout, up to upto requests
// per source.
func NewHedgedHTTPGetter(timeout time.Duration, upto int) (*HTTPGetter, error) {
	client, err := hedgedhttp.NewClient(timeout, upto, &http.Client{})
	if err != nil {
		return nil, errors.Wrap(err, "while creating hedged http client")
	}
	return &HTTPGetter{Client: client}, nil
}

// Get implements Getter.
func (g *HTTPGetter) Get(ctx context.Context, source string, w io.Writer) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := resp.Body.Close(); err == nil {
			err = nerr
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %v", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// S3Getter fetches s3://bucket/object sources.
type S3Getter struct {
	Client *minio.Client
}

// NewS3Getter connects to an S3 compatible endpoint with credentials
// taken from the standard AWS environment variables.
func NewS3Getter(endpoint string, secure bool) (*S3Getter, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "while connecting to s3 endpoint %v", endpoint)
	}
	return &S3Getter{Client: client}, nil
}

// Get implements Getter.
func (g *S3Getter) Get(ctx context.Context, source string, w io.Writer) (err error) {
	bucket, object, err := splitObject(source)
	if err != nil {
		return err
	}
	obj, err := g.Client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if nerr := obj.Close(); err == nil {
			err = nerr
		}
	}()
	_, err = io.Copy(w, obj)
	return err
}

// GCSGetter fetches gs://bucket/object sources.
type GCSGetter struct {
	Client *storage.Client
}

// NewGCSGetter creates a Google Cloud Storage client with the default
// credentials, or without authentication for public buckets.
func NewGCSGetter(ctx context.Context, anonymous bool) (*GCSGetter, error) {
	var opts []option.ClientOption
	if anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "while creating gcs client")
	}
	return &GCSGetter{Client: client}, nil
}

// Get implements Getter.
func (g *GCSGetter) Get(ctx context.Context, source string, w io.Writer) (err error) {
	bucket, object, err := splitObject(source)
	if err != nil {
		return err
	}
	r, err := g.Client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := r.Close(); err == nil {
			err = nerr
		}
	}()
	_, err = io.Copy(w, r)
	return err
}
