// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Session: {
	name:     string
	attempts: int & >=1
	verbose:  bool
	notes?:   string
	references?: [...string]
}
`

type testSession struct {
	Name       string   `json:"name"`
	Attempts   int      `json:"attempts"`
	Verbose    bool     `json:"verbose"`
	Notes      string   `json:"notes,omitempty"`
	References []string `json:"references,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		opts    []Option
		wantErr string
		check   func(t *testing.T, s *testSession)
	}{
		{
			name: "valid document",
			data: "name: \"a\"\nattempts: 2\nverbose: true\nnotes: \"n\"\nreferences: [\"lib.sh\"]\n",
			check: func(t *testing.T, s *testSession) {
				t.Helper()
				if s.Name != "a" || s.Attempts != 2 || !s.Verbose || s.Notes != "n" || len(s.References) != 1 {
					t.Errorf("decoded %+v", s)
				}
			},
		},
		{
			name: "optional fields omitted",
			data: "name: \"a\"\nattempts: 1\nverbose: false\n",
			check: func(t *testing.T, s *testSession) {
				t.Helper()
				if s.Notes != "" || s.References != nil {
					t.Errorf("decoded %+v", s)
				}
			},
		},
		{
			name:    "wrong type",
			data:    "name: \"a\"\nattempts: \"two\"\nverbose: true\n",
			opts:    []Option{WithFilename("session.cue")},
			wantErr: "session.cue: ",
		},
		{
			name:    "constraint violated",
			data:    "name: \"a\"\nattempts: 0\nverbose: true\n",
			wantErr: "attempts",
		},
		{
			name:    "missing required field",
			data:    "name: \"a\"\nverbose: true\n",
			wantErr: "<input>",
		},
		{
			name:    "unknown field",
			data:    "name: \"a\"\nattempts: 1\nverbose: true\ncolour: \"red\"\n",
			wantErr: "colour",
		},
		{
			name:    "syntax error",
			data:    "name: \"a\nattempts: 1\n",
			wantErr: "<input>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := ParseAndDecode[testSession]([]byte(testSchema), []byte(tt.data), "#Session", tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseAndDecode() error = %v, want one containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAndDecode() error = %v", err)
			}
			if res.Unified.Err() != nil {
				t.Errorf("unified value has error: %v", res.Unified.Err())
			}
			tt.check(t, res.Value)
		})
	}
}

func TestParseAndDecode_NonConcrete(t *testing.T) {
	t.Parallel()

	res, err := ParseAndDecodeString[map[string]any](testSchema, []byte("name: \"a\"\nattempts: 3\nverbose: true\n"), "#Session", WithConcrete(false))
	if err != nil {
		t.Fatalf("ParseAndDecodeString() error = %v", err)
	}
	if got := (*res.Value)["attempts"]; got == nil {
		t.Errorf("decoded map %v lacks attempts", *res.Value)
	}
	if _, ok := (*res.Value)["notes"]; ok {
		t.Error("absent optional field decoded into the map")
	}
}

func TestParseAndDecode_MissingDefinition(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecode[testSession]([]byte(testSchema), []byte("name: \"a\""), "#Nope")
	if err == nil || !strings.Contains(err.Error(), "#Nope") {
		t.Errorf("ParseAndDecode() error = %v, want missing definition", err)
	}
}

func TestFileSizeLimit(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("a", 200))
	_, err := ParseAndDecode[testSession]([]byte(testSchema), data, "#Session", WithMaxFileSize(100))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("ParseAndDecode() error = %v, want ErrFileTooLarge", err)
	}
	if err := CheckFileSize(data, 200, "f.cue"); err != nil {
		t.Errorf("CheckFileSize() at the limit error = %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"quotas"}, "quotas"},
		{[]string{"quotas", "max_depth"}, "quotas.max_depth"},
		{[]string{"session", "references", "0"}, "session.references[0]"},
		{[]string{"0", "name"}, "0.name"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestFormatError_Plain(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	base := errors.New("plain")
	err := FormatError(base, "config.cue")
	if !errors.Is(err, base) || !strings.HasPrefix(err.Error(), "config.cue: ") {
		t.Errorf("FormatError() = %v", err)
	}
}
