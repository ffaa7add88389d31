package engine

import (
	"reflect"
	"strings"
)

// Named is implemented by tasks that declare their name. Embedding a named
// task promotes its name to the variant.
type Named interface {
	DeclaredName() string
}

// NameOf resolves a task's name: the declared name when there is one,
// otherwise the type name with any suffix after "_" stripped, so
// Hello_Loud and Hello share a name.
func NameOf(t any) string {
	if n, ok := t.(Named); ok {
		if name := n.DeclaredName(); name != "" {
			return name
		}
	}
	typ := reflect.TypeOf(t)
	if typ == nil {
		return ""
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	name := typ.Name()
	if i := strings.Index(name, "_"); i > 0 {
		name = name[:i]
	}
	return name
}
