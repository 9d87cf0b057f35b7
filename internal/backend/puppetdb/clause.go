package puppetdb

import (
	"fmt"
	"regexp"
	"strings"
)

// endpoint names the remote query endpoint a clause targets.
type endpoint string

const (
	endpointNodes     endpoint = "nodes"
	endpointResources endpoint = "resources"
	endpointInventory endpoint = "inventory"
)

// fusedClauseRE matches a category clause with no surrounding whitespace,
// e.g. "F:key=value" or "I:facts.key>=value".
var fusedClauseRE = regexp.MustCompile(`^([FRCPOI]):([^=~<>]+?)(>=|<=|=|~|>|<)(.+)$`)

// bareClauseRE matches a category clause with no operator/value at all,
// e.g. "R:Type" or "C:class_name".
var bareClauseRE = regexp.MustCompile(`^([FRCPOI]):(.+)$`)

// capitalizeSegments normalizes "module::class::name" into
// "Module::Class::Name", matching the class/profile/role title convention.
func capitalizeSegments(path string) string {
	segs := strings.Split(path, "::")
	for i, s := range segs {
		if s == "" {
			continue
		}
		segs[i] = strings.ToUpper(s[:1]) + s[1:]
	}
	return strings.Join(segs, "::")
}

// splitParamField extracts an optional "%param" or "@field" suffix from a
// resource key. It is an InvalidQuery for both to be present.
func splitParamField(key string) (base, param, field string, err error) {
	pctIdx := strings.IndexByte(key, '%')
	atIdx := strings.IndexByte(key, '@')
	switch {
	case pctIdx >= 0 && atIdx >= 0:
		return "", "", "", fmt.Errorf("resource key cannot contain both a parameter and a field selector: %q", key)
	case pctIdx >= 0:
		return key[:pctIdx], key[pctIdx+1:], "", nil
	case atIdx >= 0:
		return key[:atIdx], "", key[atIdx+1:], nil
	default:
		return key, "", "", nil
	}
}

// categoryClause holds one parsed "CATEGORY:key [op value]" clause.
type categoryClause struct {
	category string
	key      string
	op       string
	value    string
	hasValue bool
}

func parseCategoryToken(tok string) (*categoryClause, bool) {
	if m := fusedClauseRE.FindStringSubmatch(tok); m != nil {
		return &categoryClause{category: m[1], key: m[2], op: m[3], value: m[4], hasValue: true}, true
	}
	if m := bareClauseRE.FindStringSubmatch(tok); m != nil {
		return &categoryClause{category: m[1], key: m[2]}, true
	}
	return nil, false
}

// toQuery renders a categoryClause into the nested-array query language and
// reports the endpoint it targets.
func (c *categoryClause) toQuery() (interface{}, endpoint, error) {
	switch c.category {
	case "F":
		return c.factQuery(), endpointNodes, nil
	case "I":
		return c.inventoryQuery(), endpointInventory, nil
	case "R":
		q, err := c.resourceQuery(c.key, false)
		return q, endpointResources, err
	case "C":
		q, err := c.shortcutQuery("")
		return q, endpointResources, err
	case "P":
		q, err := c.shortcutQuery("Profile")
		return q, endpointResources, err
	case "O":
		q, err := c.shortcutQuery("Role")
		return q, endpointResources, err
	default:
		return nil, "", fmt.Errorf("unknown category %q", c.category)
	}
}

func (c *categoryClause) factQuery() interface{} {
	op := opOrDefault(c.op)
	value := c.value
	if !c.hasValue {
		value = ""
	}
	if op == "~" {
		value = doubleBackslashes(value)
	}
	return []interface{}{op, []interface{}{"fact", c.key}, value}
}

func (c *categoryClause) inventoryQuery() interface{} {
	op := opOrDefault(c.op)
	value := c.value
	if op == "~" {
		value = doubleBackslashes(value)
	}
	return []interface{}{op, c.key, value}
}

// doubleBackslashes doubles every backslash in a regex clause's value, per
// §4.5's "F:k ~ v" translation note.
func doubleBackslashes(v string) string {
	return strings.ReplaceAll(v, `\`, `\\`)
}

// resourceQuery builds ["and", ["=","type",Type], <param-or-field-clause>?]
// for a bare "Type" or "Type%param"/"Type@field" resource key, or
// ["and", ["=","type",Type], ["=","title",title]] when title is supplied
// directly (the "R:Type = title" / "R:Type" forms).
func (c *categoryClause) resourceQuery(rawKey string, fromShortcut bool) (interface{}, error) {
	base, param, field, err := splitParamField(rawKey)
	if err != nil {
		return nil, err
	}
	typeName := capitalizeSegments(base)
	parts := []interface{}{"and", []interface{}{"=", "type", typeName}}

	switch {
	case param != "":
		op := opOrDefault(c.op)
		parts = append(parts, []interface{}{op, []interface{}{"parameter", param}, regexValue(op, c.value)})
	case field != "":
		op := opOrDefault(c.op)
		parts = append(parts, []interface{}{op, field, regexValue(op, c.value)})
	case c.hasValue:
		op := opOrDefault(c.op)
		parts = append(parts, []interface{}{op, "title", regexValue(op, c.value)})
	}
	return parts, nil
}

// regexValue doubles backslashes in v when op is the regex-match operator.
func regexValue(op, v string) string {
	if op == "~" {
		return doubleBackslashes(v)
	}
	return v
}

// shortcutQuery implements the C/P/O class-like shortcuts. prefix is
// "Profile", "Role", or "" for the bare class shortcut.
func (c *categoryClause) shortcutQuery(prefix string) (interface{}, error) {
	base, param, field, err := splitParamField(c.key)
	if err != nil {
		return nil, err
	}
	if c.hasValue && (param == "" && field == "") {
		return nil, fmt.Errorf("the matching of a value is accepted only when using a parameter or a field selector")
	}

	title := capitalizeSegments(base)
	if prefix != "" {
		title = prefix + "::" + title
	}
	classClause := []interface{}{"and", []interface{}{"=", "type", "Class"}, []interface{}{"=", "title", title}}

	if param == "" && field == "" {
		return classClause, nil
	}

	op := opOrDefault(c.op)
	value := regexValue(op, c.value)
	var extra []interface{}
	if param != "" {
		extra = []interface{}{"and", []interface{}{"=", "type", "Class"}, []interface{}{op, []interface{}{"parameter", param}, value}}
	} else {
		extra = []interface{}{"and", []interface{}{"=", "type", "Class"}, []interface{}{op, field, value}}
	}
	return []interface{}{"and", classClause, extra}, nil
}

func opOrDefault(op string) string {
	if op == "" {
		return "="
	}
	return op
}

// hostGlobRE detects glob characters in a host expression.
var hostGlobRE = regexp.MustCompile(`[*?]`)

// globToRegex turns a "*"/"?" host glob into an anchored regex per §4.5.
func globToRegex(expr string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range expr {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('$')
	return b.String()
}
