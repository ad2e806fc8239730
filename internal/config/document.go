package config

import (
	"bytes"
	"slices"
	"strconv"
	"strings"
)

// KeyValue is one string-valued key of a table.
type KeyValue struct {
	Key   string
	Value string
}

// Document is a TOML file kept as lines so it can be edited without
// reformatting anything outside the table being changed. It recognises table
// headers, key lines, comments, multi-line strings and multi-line arrays;
// everything else is carried through untouched.
type Document struct {
	lines []string
}

// ParseDocument splits data into lines. It never fails; syntax errors are
// reported by the decoder.
func ParseDocument(data []byte) *Document {
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return &Document{}
	}
	return &Document{lines: strings.Split(s, "\n")}
}

// Bytes renders the document with a trailing newline.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for _, l := range d.lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// AppendComment adds comment lines at the end of the document.
func (d *Document) AppendComment(lines ...string) {
	for _, l := range lines {
		if l == "" {
			d.lines = append(d.lines, "#")
			continue
		}
		d.lines = append(d.lines, "# "+l)
	}
}

// SetTable assigns kvs inside the table at path. Existing keys are rewritten
// on their own line, missing ones are appended after the table's last entry,
// and a missing table is appended to the end of the document.
func (d *Document) SetTable(path []string, kvs []KeyValue) {
	start, end, ok := d.table(path)
	if !ok {
		if n := len(d.lines); n > 0 && strings.TrimSpace(d.lines[n-1]) != "" {
			d.lines = append(d.lines, "")
		}
		d.lines = append(d.lines, "["+formatPath(path)+"]")
		for _, kv := range kvs {
			d.lines = append(d.lines, formatKeyValue(kv.Key, kv.Value))
		}
		return
	}

	var missing []string
	for _, kv := range kvs {
		if i, ok := d.keyLine(start+1, end, kv.Key); ok {
			indent := d.lines[i][:len(d.lines[i])-len(strings.TrimLeft(d.lines[i], " \t"))]
			d.lines[i] = indent + formatKeyValue(kv.Key, kv.Value)
			continue
		}
		missing = append(missing, formatKeyValue(kv.Key, kv.Value))
	}
	if len(missing) == 0 {
		return
	}
	at := end
	for at > start+1 && strings.TrimSpace(d.lines[at-1]) == "" {
		at--
	}
	d.lines = append(d.lines[:at], append(missing, d.lines[at:]...)...)
}

// Lookup returns the raw string value of key inside the table at path.
func (d *Document) Lookup(path []string, key string) (string, bool) {
	start, end, ok := d.table(path)
	if !ok {
		return "", false
	}
	i, ok := d.keyLine(start+1, end, key)
	if !ok {
		return "", false
	}
	_, rest, _ := strings.Cut(d.lines[i], "=")
	rest = strings.TrimSpace(stripComment(rest))
	v, err := strconv.Unquote(rest)
	if err != nil {
		return rest, true
	}
	return v, true
}

// table finds the header line of path and the index one past the table's
// last line.
func (d *Document) table(path []string) (start, end int, ok bool) {
	headers := d.headers()
	for n, h := range headers {
		got, err := parseHeader(d.lines[h])
		if err != nil || !slices.Equal(got, path) {
			continue
		}
		end = len(d.lines)
		if n+1 < len(headers) {
			end = headers[n+1]
		}
		return h, end, true
	}
	return 0, 0, false
}

func (d *Document) keyLine(from, to int, key string) (int, bool) {
	var sc scanner
	for i := from; i < to; i++ {
		if sc.continued() {
			sc.scan(d.lines[i])
			continue
		}
		if k, ok := lineKey(d.lines[i]); ok && k == key {
			return i, true
		}
		sc.scan(d.lines[i])
	}
	return 0, false
}

// headers returns the indices of table header lines, skipping anything
// inside multi-line strings and arrays.
func (d *Document) headers() []int {
	var (
		out []int
		sc  scanner
	)
	for i, l := range d.lines {
		if !sc.continued() && strings.HasPrefix(strings.TrimSpace(l), "[") {
			out = append(out, i)
			continue
		}
		sc.scan(l)
	}
	return out
}

// scanner tracks whether a value spans lines.
type scanner struct {
	multi string
	depth int
}

func (s *scanner) continued() bool { return s.multi != "" || s.depth > 0 }

func (s *scanner) scan(line string) {
	for i := 0; i < len(line); i++ {
		if s.multi != "" {
			if strings.HasPrefix(line[i:], s.multi) {
				i += len(s.multi) - 1
				s.multi = ""
			} else if s.multi == `"""` && line[i] == '\\' {
				i++
			}
			continue
		}
		switch c := line[i]; c {
		case '#':
			return
		case '"', '\'':
			delim := strings.Repeat(string(c), 3)
			if strings.HasPrefix(line[i:], delim) {
				s.multi = delim
				i += 2
				continue
			}
			i = skipString(line, i)
		case '[', '{':
			s.depth++
		case ']', '}':
			if s.depth > 0 {
				s.depth--
			}
		}
	}
}

// skipString returns the index of the quote closing the string opened at i.
func skipString(line string, i int) int {
	q := line[i]
	for j := i + 1; j < len(line); j++ {
		switch {
		case q == '"' && line[j] == '\\':
			j++
		case line[j] == q:
			return j
		}
	}
	return len(line)
}

func stripComment(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '#':
			return s[:i]
		case '"', '\'':
			i = skipString(s, i)
		}
	}
	return s
}

// lineKey returns the key of a "key = value" line when it is a single
// (non-dotted) key.
func lineKey(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if t == "" || t[0] == '#' || t[0] == '[' {
		return "", false
	}
	eq := -1
	for i := 0; i < len(t); i++ {
		if t[i] == '"' || t[i] == '\'' {
			i = skipString(t, i)
			continue
		}
		if t[i] == '=' {
			eq = i
			break
		}
	}
	if eq < 0 {
		return "", false
	}
	parts, err := parseKey(t[:eq])
	if err != nil || len(parts) != 1 {
		return "", false
	}
	return parts[0], true
}

func parseHeader(line string) ([]string, error) {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "[[") {
		return nil, errArrayTable
	}
	t = strings.TrimPrefix(t, "[")
	end := -1
	for i := 0; i < len(t); i++ {
		if t[i] == '"' || t[i] == '\'' {
			i = skipString(t, i)
			continue
		}
		if t[i] == ']' {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, errUnterminated
	}
	return parseKey(t[:end])
}

// parseKey splits a possibly dotted, possibly quoted TOML key.
func parseKey(s string) ([]string, error) {
	var parts []string
	s = strings.TrimSpace(s)
	for {
		if s == "" {
			return nil, errEmptyKey
		}
		var part string
		switch s[0] {
		case '"':
			end := skipString(s, 0)
			if end >= len(s) {
				return nil, errUnterminated
			}
			v, err := strconv.Unquote(s[:end+1])
			if err != nil {
				return nil, err
			}
			part, s = v, s[end+1:]
		case '\'':
			end := strings.IndexByte(s[1:], '\'')
			if end < 0 {
				return nil, errUnterminated
			}
			part, s = s[1:end+1], s[end+2:]
		default:
			n := 0
			for n < len(s) && isBare(s[n]) {
				n++
			}
			if n == 0 {
				return nil, errEmptyKey
			}
			part, s = s[:n], s[n:]
		}
		parts = append(parts, part)
		s = strings.TrimSpace(s)
		if s == "" {
			return parts, nil
		}
		if s[0] != '.' {
			return nil, errBadKey
		}
		s = strings.TrimSpace(s[1:])
	}
}

func isBare(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// formatPath quotes every segment that is not a plain identifier, which
// keeps target triples quoted.
func formatPath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = formatKey(p)
	}
	return strings.Join(parts, ".")
}

func formatKey(k string) string {
	for i := 0; i < len(k); i++ {
		if !isBare(k[i]) || k[i] == '-' {
			return strconv.Quote(k)
		}
	}
	if k == "" {
		return `""`
	}
	return k
}

func formatKeyValue(k, v string) string {
	return formatKey(k) + " = " + strconv.Quote(v)
}
