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

import "testing"

func TestScheme(t *testing.T) {
	for _, tc := range []struct{ location, scheme string }{
		{"s3://bucket/key", "s3"},
		{"HTTPS://host/x.fq", "https"},
		{"gs://b/o", "gs"},
		{"/data/x.fq", ""},
		{"reads/x.fq", ""},
		{"://nothing", ""},
		{"we ird://x", ""},
	} {
		if got := Scheme(tc.location); got != tc.scheme {
			t.Errorf("Scheme(%q) = %q, want %q", tc.location, got, tc.scheme)
		}
	}
}

func TestResolveLocation(t *testing.T) {
	for _, tc := range []struct{ location, resolved string }{
		{"reads/x.fq", "/data/reads/x.fq"},
		{"/abs/x.fq", "/abs/x.fq"},
		{"s3://bucket/x.fq", "s3://bucket/x.fq"},
	} {
		if got := ResolveLocation("/data", tc.location); got != tc.resolved {
			t.Errorf("ResolveLocation(%q) = %q, want %q", tc.location, got, tc.resolved)
		}
	}
}
