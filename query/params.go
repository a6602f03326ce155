package query

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// propertyPath matches "alias.property.path" tokens that are not already
// escaped, qualified or parameter names.
var propertyPath = regexp.MustCompile("(^|[^\\w.`\"\\]\\[:@$])([A-Za-z_]\\w*)\\.([A-Za-z_][\\w.]*)")

// rewriteProperties replaces property paths of aliases with entity
// metadata by escaped column names. Quoted text is left unchanged, as are
// paths that resolve to no column.
func (b *SelectQueryBuilder) rewriteProperties(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	var out strings.Builder
	for _, seg := range splitQuoted(s) {
		if seg.quoted {
			out.WriteString(seg.text)
			continue
		}
		out.WriteString(propertyPath.ReplaceAllStringFunc(seg.text, func(m string) string {
			sub := propertyPath.FindStringSubmatch(m)
			if col, ok := b.resolveProperty(sub[2], strings.TrimSuffix(sub[3], ".")); ok {
				return sub[1] + col + strings.TrimPrefix(sub[3], strings.TrimSuffix(sub[3], "."))
			}
			return m
		}))
	}
	return out.String()
}

// resolveProperty returns the escaped column of alias.path. Owning to-one
// relations resolve to their foreign key, either by the relation name or
// by the referenced property ("author.id").
func (b *SelectQueryBuilder) resolveProperty(alias, path string) (string, bool) {
	a := b.expr.FindAlias(alias)
	if a == nil || a.Metadata == nil {
		return "", false
	}
	column := func(name string) string {
		return b.strategy.Escape(a.Name) + "." + b.strategy.Escape(name)
	}
	if c := a.Metadata.Column(path); c != nil {
		return column(c.Name), true
	}
	relPath, ref, _ := strings.Cut(path, ".")
	for p := path; p != ""; {
		if rel := a.Metadata.Relation(p); rel != nil {
			relPath, ref = p, strings.TrimPrefix(strings.TrimPrefix(path, p), ".")
			break
		}
		i := strings.LastIndexByte(p, '.')
		if i < 0 {
			break
		}
		p = p[:i]
	}
	rel := a.Metadata.Relation(relPath)
	if rel == nil || rel.IsMany() || !rel.IsOwning() {
		return "", false
	}
	link := rel.Link()
	if ref == "" {
		if len(link.ParentColumns) != 1 {
			return "", false
		}
		return column(link.ParentColumns[0].Name), true
	}
	for i, c := range link.MatchColumns {
		if c.Property == ref {
			return column(link.ParentColumns[i].Name), true
		}
	}
	return "", false
}

type segment struct {
	text   string
	quoted bool
}

// splitQuoted splits s into quoted and unquoted segments. Single quoted
// literals, double quoted and backquoted identifiers are quoted segments.
func splitQuoted(s string) []segment {
	var (
		segs  []segment
		start int
	)
	for i := 0; i < len(s); i++ {
		q := s[i]
		if q != '\'' && q != '"' && q != '`' {
			continue
		}
		if i > start {
			segs = append(segs, segment{text: s[start:i]})
		}
		j := i + 1
		for ; j < len(s); j++ {
			if s[j] != q {
				continue
			}
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			break
		}
		end := min(j+1, len(s))
		segs = append(segs, segment{text: s[i:end], quoted: true})
		start, i = end, end-1
	}
	if start < len(s) {
		segs = append(segs, segment{text: s[start:]})
	}
	return segs
}

// expandParameters replaces ":name" tokens by positional "?" placeholders
// and ":...name" tokens by one placeholder per element of a list value.
// Unknown names are left untouched. With escape set, question marks written
// in s are doubled, inside quoted segments or not, so that numbered
// placeholder formats leave them alone. This keeps operators such as the
// jsonb "?" of PostgreSQL intact. Without escape a bare "?" reaches the
// driver as a placeholder.
func expandParameters(s string, params Params, escape bool) (string, []any, error) {
	var (
		out  strings.Builder
		args []any
	)
	for _, seg := range splitQuoted(s) {
		if seg.quoted {
			if escape {
				out.WriteString(strings.ReplaceAll(seg.text, "?", "??"))
			} else {
				out.WriteString(seg.text)
			}
			continue
		}
		text := seg.text
		for i := 0; i < len(text); i++ {
			ch := text[i]
			if ch == '?' && escape {
				out.WriteString("??")
				continue
			}
			if ch != ':' {
				out.WriteByte(ch)
				continue
			}
			// Postgres casts.
			if i+1 < len(text) && text[i+1] == ':' {
				out.WriteString("::")
				i++
				continue
			}
			if i > 0 && isWord(text[i-1]) {
				out.WriteByte(ch)
				continue
			}
			spread := strings.HasPrefix(text[i+1:], "...")
			start := i + 1
			if spread {
				start += 3
			}
			end := start
			for end < len(text) && isWord(text[end]) {
				end++
			}
			if end == start || isDigit(text[start]) {
				out.WriteByte(ch)
				continue
			}
			name := text[start:end]
			v, ok := params[name]
			if !ok {
				out.WriteString(text[i:end])
				i = end - 1
				continue
			}
			if spread {
				vs, err := listOf(v)
				if err != nil {
					return "", nil, fmt.Errorf("query: parameter %q: %w", name, err)
				}
				if len(vs) == 0 {
					out.WriteString("NULL")
				} else {
					out.WriteString(strings.Repeat("?, ", len(vs)-1) + "?")
					args = append(args, vs...)
				}
			} else {
				out.WriteByte('?')
				args = append(args, v)
			}
			i = end - 1
		}
	}
	return out.String(), args, nil
}

// listOf returns the elements of a slice value. Byte slices are scalars.
func listOf(v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	vs := make([]any, rv.Len())
	for i := range vs {
		vs[i] = rv.Index(i).Interface()
	}
	return vs, nil
}

func isWord(c byte) bool {
	return c == '_' || isDigit(c) || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }
