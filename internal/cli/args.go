package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jacentio/docload/loader"
)

var errUnterminatedQuote = errors.New("unterminated quote")

func parseKeys(args []string) ([]*loader.Key, error) {
	keys := make([]*loader.Key, len(args))
	for i, arg := range args {
		k, err := loader.ParseKey(arg)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// filterOps is ordered so that two-character operators win over their
// one-character prefixes at the same position.
var filterOps = []loader.Operator{
	loader.GreaterOrEqual, loader.LessOrEqual, loader.NotEqual,
	loader.Equal, loader.LessThan, loader.GreaterThan,
}

// parseFilter parses "field<op>value" or "field in [v1, v2]". Values are
// JSON when they parse as JSON and plain strings otherwise. Values of the
// __key__ field are keys.
func parseFilter(s string) (loader.Filter, error) {
	if field, rest, ok := strings.Cut(s, " in "); ok {
		field = strings.TrimSpace(field)
		var raw []any
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &raw); err != nil {
			return loader.Filter{}, fmt.Errorf("filter %q: in needs a JSON list: %w", s, err)
		}
		values := make([]any, len(raw))
		for i, v := range raw {
			cv, err := fieldValue(field, v)
			if err != nil {
				return loader.Filter{}, fmt.Errorf("filter %q: %w", s, err)
			}
			values[i] = cv
		}
		return loader.Filter{Field: field, Op: loader.In, Value: values}, nil
	}

	at, op := -1, loader.Operator("")
	for _, candidate := range filterOps {
		if i := strings.Index(s, string(candidate)); i > 0 && (at < 0 || i < at) {
			at, op = i, candidate
		}
	}
	if at < 0 {
		return loader.Filter{}, fmt.Errorf("filter %q: no operator", s)
	}
	field := strings.TrimSpace(s[:at])
	value, err := fieldValue(field, parseValue(strings.TrimSpace(s[at+len(op):])))
	if err != nil {
		return loader.Filter{}, fmt.Errorf("filter %q: %w", s, err)
	}
	return loader.Filter{Field: field, Op: op, Value: value}, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func fieldValue(field string, v any) (any, error) {
	if field != loader.KeyField {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("key value %v is not a string", v)
	}
	return loader.ParseKey(s)
}

// parseOrder parses "field" or "-field" for descending order.
func parseOrder(s string) loader.Order {
	if field, ok := strings.CutPrefix(s, "-"); ok {
		return loader.Order{Field: field, Descending: true}
	}
	return loader.Order{Field: s}
}

// splitLine splits a shell line into words. Single and double quotes group
// words; a backslash escapes the next character outside single quotes.
func splitLine(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
