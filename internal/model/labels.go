package model

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Labels maps class indices to class names. It is immutable once built.
type Labels struct {
	names []string
}

// NewLabels copies names into a new table. Names are trimmed and put in
// Unicode NFC so that exporters writing decomposed accents still match.
func NewLabels(names ...string) Labels {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = norm.NFC.String(strings.TrimSpace(n))
	}
	return Labels{names: out}
}

// DefaultLabels is the two-class table used when a model carries none.
func DefaultLabels() Labels {
	return NewLabels("fuego", "humo")
}

// Len is the number of known classes.
func (l Labels) Len() int {
	return len(l.names)
}

// Name resolves index, falling back to "class_{index}".
func (l Labels) Name(index int) string {
	if index >= 0 && index < len(l.names) {
		return l.names[index]
	}
	return fmt.Sprintf("class_%d", index)
}

// Names returns a copy of the table.
func (l Labels) Names() []string {
	return append([]string(nil), l.names...)
}

// ultralytics exporters write names as a python dict literal.
var pyDictEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

// ParseLabels accepts the shapes class names come in: a list, a map keyed by
// index (numbers or numeric strings), or a "{0: 'a', 1: 'b'}" string.
func ParseLabels(v any) (Labels, error) {
	switch names := v.(type) {
	case []string:
		return NewLabels(names...), nil
	case []any:
		out := make([]string, 0, len(names))
		for i, n := range names {
			s, ok := n.(string)
			if !ok {
				return Labels{}, errors.Errorf("class name %d is %T, not a string", i, n)
			}
			out = append(out, s)
		}
		return NewLabels(out...), nil
	case map[string]any:
		indexed := make(map[int]string, len(names))
		for k, n := range names {
			idx, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil {
				return Labels{}, errors.Wrapf(err, "class key %q", k)
			}
			indexed[idx] = fmt.Sprint(n)
		}
		return fromIndexed(indexed)
	case map[int]string:
		return fromIndexed(names)
	case string:
		return parseNameString(names)
	default:
		return Labels{}, errors.Errorf("unsupported class name table %T", v)
	}
}

func parseNameString(s string) (Labels, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Labels{}, errors.New("empty class name table")
	}
	if strings.HasPrefix(s, "{") {
		matches := pyDictEntry.FindAllStringSubmatch(s, -1)
		if len(matches) == 0 {
			return Labels{}, errors.Errorf("no class names in %q", s)
		}
		indexed := make(map[int]string, len(matches))
		for _, m := range matches {
			idx, _ := strconv.Atoi(m[1])
			name := m[2]
			if name == "" {
				name = m[3]
			}
			indexed[idx] = name
		}
		return fromIndexed(indexed)
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return NewLabels(parts...), nil
}

func fromIndexed(indexed map[int]string) (Labels, error) {
	if len(indexed) == 0 {
		return Labels{}, errors.New("empty class name table")
	}
	keys := make([]int, 0, len(indexed))
	for k := range indexed {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		if k != i {
			return Labels{}, errors.Errorf("class indices are not contiguous: missing %d", i)
		}
		out[i] = indexed[k]
	}
	return NewLabels(out...), nil
}

// LoadLabelsFile reads one class name per line; blank lines are skipped.
func LoadLabelsFile(path string) (Labels, error) {
	file, err := os.Open(path)
	if err != nil {
		return Labels{}, errors.Wrap(err, "open labels file")
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Labels{}, errors.Wrap(err, "read labels file")
	}
	if len(names) == 0 {
		return Labels{}, errors.Errorf("labels file %s is empty", path)
	}
	return NewLabels(names...), nil
}
