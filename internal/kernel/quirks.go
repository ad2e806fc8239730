// Package kernel builds Linux kernel headers and images with modern cross
// compilers, including the flag workarounds old kernel releases need.
package kernel

import (
	"slices"
	"strings"

	"toolup/internal/version"
)

// Patch is a source fix applied once to a kernel tree before configuration.
type Patch struct {
	Name string
	Diff string
}

// Rule contributes flags to every kernel in the series range
// (Floor, Ceiling]. A nil Floor means no lower bound. Ranges compare
// major.minor only, so 5.10.200 is treated as 5.10.
type Rule struct {
	Ceiling  version.Version
	Floor    *version.Version
	KCFLAGS  []string
	MakeArgs []string
	Patches  []Patch
}

func kv(major, minor uint64) version.Version { return version.New(version.Kernel, major, minor, 0) }

func floor(major, minor uint64) *version.Version {
	v := kv(major, minor)
	return &v
}

// dtcYylloc fixes the duplicate yylloc definition that GCC 10 and later
// reject as a multiple definition at link time.
var dtcYylloc = Patch{
	Name: "dtc-lexer-yylloc",
	Diff: `--- a/scripts/dtc/dtc-lexer.l
+++ b/scripts/dtc/dtc-lexer.l
@@ -23,7 +23,7 @@
 #include "srcpos.h"
 #include "dtc-parser.tab.h"
 
-YYLTYPE yylloc;
+extern YYLTYPE yylloc;
 extern bool treesource_error;
 
 /* CAUTION: this will stop working if we ever use yyless() or yyunput() */
`,
}

// Rules is ordered newest first. New quirks are appended; existing entries
// never need to change.
var Rules = []Rule{
	{Ceiling: kv(6, 14), KCFLAGS: []string{"-Wno-unterminated-string-initialization"}},
	{Ceiling: kv(6, 13), KCFLAGS: []string{"-std=gnu11"}, MakeArgs: []string{"HOSTCFLAGS=-std=gnu11"}},
	{Ceiling: kv(6, 2), KCFLAGS: []string{"-Wno-array-bounds"}},
	{Ceiling: kv(6, 0), KCFLAGS: []string{"-Wno-format-truncation"}},
	{Ceiling: kv(5, 15), Floor: floor(5, 10), KCFLAGS: []string{"-Wno-use-after-free"}},
	{Ceiling: kv(5, 10), MakeArgs: []string{"V=1"}, Patches: []Patch{dtcYylloc}},
}

// Flags is the folded result of every matching rule.
type Flags struct {
	KCFLAGS  []string
	MakeArgs []string
	Patches  []Patch
}

// ResolveFlags folds the default rule table for v.
func ResolveFlags(v version.Version) Flags {
	return Resolve(Rules, v)
}

// Resolve folds rules for kernel v.
func Resolve(rules []Rule, v version.Version) Flags {
	series := kv(v.Major, v.Minor)
	var f Flags
	for _, r := range rules {
		if !series.AtMost(r.Ceiling) {
			continue
		}
		if r.Floor != nil && series.AtMost(*r.Floor) {
			continue
		}
		f.KCFLAGS = appendNew(f.KCFLAGS, r.KCFLAGS...)
		f.MakeArgs = appendNew(f.MakeArgs, r.MakeArgs...)
		f.Patches = append(f.Patches, r.Patches...)
	}
	return f
}

func appendNew(dst []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}

// MakeVars renders f as make command line variables.
func (f Flags) MakeVars() []string {
	var vars []string
	if len(f.KCFLAGS) > 0 {
		vars = append(vars, "KCFLAGS="+strings.Join(f.KCFLAGS, " "))
	}
	return append(vars, f.MakeArgs...)
}
