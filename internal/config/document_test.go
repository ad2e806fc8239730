package config

import (
	"testing"
)

func TestSetTableEditsInPlace(t *testing.T) {
	t.Parallel()

	src := `# header comment
title = "x"

[toolchain.aarch64-unknown-linux-gnu] # unquoted header
gcc = "13.2.0" # old
  binutils = '2.41'

[toolchain."x86_64-unknown-linux-gnu"]
gcc = "14.1.0"
`
	doc := ParseDocument([]byte(src))
	doc.SetTable([]string{"toolchain", "aarch64-unknown-linux-gnu"}, []KeyValue{
		{"gcc", "15.2.0"}, {"binutils", "2.45"}, {"libc", "2.42"},
	})

	want := `# header comment
title = "x"

[toolchain.aarch64-unknown-linux-gnu] # unquoted header
gcc = "15.2.0"
  binutils = "2.45"
libc = "2.42"

[toolchain."x86_64-unknown-linux-gnu"]
gcc = "14.1.0"
`
	if got := string(doc.Bytes()); got != want {
		t.Fatalf("SetTable() =\n%s\nwant\n%s", got, want)
	}
}

func TestSetTableAppendsNewTable(t *testing.T) {
	t.Parallel()

	doc := ParseDocument(nil)
	doc.SetTable([]string{"toolchain", "riscv64-elf"}, []KeyValue{{"gcc", "15.2.0"}})
	if got := string(doc.Bytes()); got != "[toolchain.\"riscv64-elf\"]\ngcc = \"15.2.0\"\n" {
		t.Fatalf("Bytes() = %q", got)
	}
}

func TestHeadersInsideMultilineValuesAreIgnored(t *testing.T) {
	t.Parallel()

	src := `notes = """
[toolchain."aarch64-elf"]
gcc = "1.0.0"
"""
matrix = [
  ["a", "b"],
]
[toolchain."aarch64-elf"]
gcc = "14.2.0"
`
	doc := ParseDocument([]byte(src))
	if v, ok := doc.Lookup([]string{"toolchain", "aarch64-elf"}, "gcc"); !ok || v != "14.2.0" {
		t.Fatalf("Lookup() = %q, %v", v, ok)
	}
	doc.SetTable([]string{"toolchain", "aarch64-elf"}, []KeyValue{{"gcc", "15.2.0"}})
	f, err := Decode("doc.toml", doc.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := f.Toolchain["aarch64-elf"].GCC; got != "15.2.0" {
		t.Fatalf("gcc = %q after edit:\n%s", got, doc.Bytes())
	}
}

func TestParseKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
		ok   bool
	}{
		{`toolchain."a.b"`, []string{"toolchain", "a.b"}, true},
		{` toolchain . 'x-y' `, []string{"toolchain", "x-y"}, true},
		{`a..b`, nil, false},
		{`"open`, nil, false},
	}
	for _, tc := range cases {
		got, err := parseKey(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("parseKey(%q) error = %v", tc.in, err)
		}
		if tc.ok && len(got) != len(tc.want) {
			t.Fatalf("parseKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("parseKey(%q) = %q, want %q", tc.in, got, tc.want)
			}
		}
	}
}
