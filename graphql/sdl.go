package graphql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// builtinScalars already exist in every schema and must not be redeclared.
var builtinScalars = map[string]bool{
	"String":  true,
	"Int":     true,
	"Float":   true,
	"Boolean": true,
	"ID":      true,
}

// renderSDL serializes an introspection result back into SDL text. The text
// is what gets written to the schema cache: parsing it with parseSDL yields
// the schema used for local query validation.
func renderSDL(data *introspectionData) (string, error) {
	s := data.Schema
	if s.QueryType == nil || s.QueryType.Name == nil {
		return "", errors.WrapInvalid(errors.ErrSchemaUnusable, "Client", "renderSDL",
			"introspection result has no query root")
	}

	var b strings.Builder
	writeRootBlock(&b, s)

	// Deterministic output: the cache file must not churn between identical
	// introspections.
	types := make([]fullType, 0, len(s.Types))
	for _, t := range s.Types {
		if strings.HasPrefix(t.Name, "__") {
			continue
		}
		if t.Kind == "SCALAR" && builtinScalars[t.Name] {
			continue
		}
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })

	for _, t := range types {
		if err := writeType(&b, t); err != nil {
			return "", err
		}
	}

	return b.String(), nil
}

func writeRootBlock(b *strings.Builder, s introspectionSchema) {
	b.WriteString("schema {\n")
	fmt.Fprintf(b, "  query: %s\n", *s.QueryType.Name)
	if s.MutationType != nil && s.MutationType.Name != nil {
		fmt.Fprintf(b, "  mutation: %s\n", *s.MutationType.Name)
	}
	if s.SubscriptionType != nil && s.SubscriptionType.Name != nil {
		fmt.Fprintf(b, "  subscription: %s\n", *s.SubscriptionType.Name)
	}
	b.WriteString("}\n\n")
}

func writeType(b *strings.Builder, t fullType) error {
	switch t.Kind {
	case "SCALAR":
		fmt.Fprintf(b, "scalar %s\n\n", t.Name)

	case "OBJECT":
		fmt.Fprintf(b, "type %s%s {\n", t.Name, renderInterfaces(t.Interfaces))
		writeFields(b, t.Fields)
		b.WriteString("}\n\n")

	case "INTERFACE":
		fmt.Fprintf(b, "interface %s%s {\n", t.Name, renderInterfaces(t.Interfaces))
		writeFields(b, t.Fields)
		b.WriteString("}\n\n")

	case "UNION":
		members := make([]string, 0, len(t.PossibleTypes))
		for _, m := range t.PossibleTypes {
			if m.Name != nil {
				members = append(members, *m.Name)
			}
		}
		fmt.Fprintf(b, "union %s = %s\n\n", t.Name, strings.Join(members, " | "))

	case "ENUM":
		fmt.Fprintf(b, "enum %s {\n", t.Name)
		for _, v := range t.EnumValues {
			fmt.Fprintf(b, "  %s\n", v.Name)
		}
		b.WriteString("}\n\n")

	case "INPUT_OBJECT":
		fmt.Fprintf(b, "input %s {\n", t.Name)
		for _, f := range t.InputFields {
			fmt.Fprintf(b, "  %s\n", renderInputValue(f))
		}
		b.WriteString("}\n\n")

	default:
		return errors.WrapInvalid(errors.ErrSchemaUnusable, "Client", "renderSDL",
			fmt.Sprintf("unknown type kind %q for %s", t.Kind, t.Name))
	}
	return nil
}

func writeFields(b *strings.Builder, fields []fieldDef) {
	for _, f := range fields {
		args := ""
		if len(f.Args) > 0 {
			rendered := make([]string, len(f.Args))
			for i, a := range f.Args {
				rendered[i] = renderInputValue(a)
			}
			args = "(" + strings.Join(rendered, ", ") + ")"
		}
		fmt.Fprintf(b, "  %s%s: %s\n", f.Name, args, renderTypeRef(f.Type))
	}
}

func renderInterfaces(interfaces []typeRef) string {
	if len(interfaces) == 0 {
		return ""
	}
	names := make([]string, 0, len(interfaces))
	for _, i := range interfaces {
		if i.Name != nil {
			names = append(names, *i.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return " implements " + strings.Join(names, " & ")
}

func renderInputValue(v inputValue) string {
	s := fmt.Sprintf("%s: %s", v.Name, renderTypeRef(v.Type))
	if v.DefaultValue != nil {
		// Introspection already returns the default as a GraphQL literal.
		s += " = " + *v.DefaultValue
	}
	return s
}

func renderTypeRef(ref typeRef) string {
	switch ref.Kind {
	case "NON_NULL":
		if ref.OfType == nil {
			return "Unknown!"
		}
		return renderTypeRef(*ref.OfType) + "!"
	case "LIST":
		if ref.OfType == nil {
			return "[Unknown]"
		}
		return "[" + renderTypeRef(*ref.OfType) + "]"
	default:
		if ref.Name == nil {
			return "Unknown"
		}
		return *ref.Name
	}
}
