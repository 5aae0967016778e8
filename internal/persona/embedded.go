package persona

import (
	"embed"
	"fmt"
)

//go:embed personas/*.yaml
var builtinFS embed.FS

// builtinNames lists the embedded personas.
var builtinNames = []string{
	"concierge",
}

func loadBuiltin(name string) (*Persona, error) {
	data, err := builtinFS.ReadFile("personas/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("persona not found: %s", name)
	}
	return parse(data, name, SourceBuiltin, "builtin:"+name)
}

// BuiltinNames returns the names of the embedded personas.
func BuiltinNames() []string {
	out := make([]string, len(builtinNames))
	copy(out, builtinNames)
	return out
}
