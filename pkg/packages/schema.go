package packages

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

const manifestSchema = `
#Manifest: {
	name:           string & =~"^[A-Za-z0-9][A-Za-z0-9_.-]*$"
	description?:   string
	initial_state?: string
	steps: [#Step, ...#Step]
}

#Step: {
	from:    string
	to:      string & !=""
	sql?:    string
	script?: string
}
`

// schemaValidator checks manifests against the CUE manifest schema.
type schemaValidator struct {
	mu       sync.Mutex
	ctx      *cue.Context
	manifest cue.Value
}

func newSchemaValidator() (*schemaValidator, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(manifestSchema, cue.Filename("manifest.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema has no #Manifest: %w", err)
	}

	return &schemaValidator{ctx: ctx, manifest: def}, nil
}

// Validate unifies m with #Manifest and requires a concrete result.
func (sv *schemaValidator) Validate(m *Manifest) error {
	// cue.Context is not safe for concurrent use.
	sv.mu.Lock()
	defer sv.mu.Unlock()

	data := sv.ctx.Encode(m)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	unified := sv.manifest.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
