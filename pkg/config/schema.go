package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// manifestSchema is the CUE shape every manifest document must satisfy.
// Definitions are closed, so misspelled fields are rejected with their
// path. Start descriptors and generator vars stay open: their shape
// belongs to the backend and the script.
const manifestSchema = `
#Manifest: {
	stack: #Stack
	units?: [...#Unit]
	generators?: [...#Generator]
}

#Stack: {
	name:         #Name
	environment?: string
	docker?: {
		binary?:       string
		context?:      string
		stop_timeout?: #Duration
	}
	hosts?: {
		[string]: #Host
	}
	edge?: {
		endpoint?: string
		token?:    string
		zone?:     string
	}
	readiness?: #Readiness
	provisioners?: {
		postgres_url?: string
		minio?: {
			endpoint?:   string
			access_key?: string
			secret_key?: string
			use_ssl?:    bool
			region?:     string
		}
		qdrant?: {
			url?:     string
			api_key?: string
		}
	}
	history?: {
		path?: string
		keep?: int & >=0
	}
}

#Host: {
	address:      string & !=""
	port?:        int & >0 & <65536
	user:         string & !=""
	auth_method?: "password" | "key" | "agent"
	password?:               string
	private_key_path?:       string
	private_key_passphrase?: string
	known_hosts_path?:       string
	strict_host_key?:        bool
	sudo_password?:          string
	staging_dir?:            string
}

#Readiness: {
	interval?:          #Duration
	max_attempts?:      int & >=0
	max_duration?:      #Duration
	stable_iterations?: int & >=0
}

#Unit: {
	name:     #Name
	backend?: "docker" | "host"
	host?:    string
	start: {...}
	depends_on?: [...#Name]
	readiness?: #Readiness
	provision?: [...#Provision]
	dns?: [...#DNSRecord]
}

#Provision: {
	key: =~"^[a-z]+:[A-Za-z0-9._-]+$"
	params?: {[string]: string}
}

#DNSRecord: {
	name:     string & !=""
	type:     "A" | "AAAA" | "CNAME"
	value:    string & !=""
	proxied?: bool
	ttl?:     int & >=0
}

#Generator: {
	script: string & !=""
	vars?: {...}
}

#Name:     =~"^[a-z0-9][a-z0-9_-]*$"
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
`

// SchemaValidator checks decoded manifest documents against the CUE
// schema before strict struct decoding, so shape errors carry field
// paths instead of decoder noise.
type SchemaValidator struct {
	ctx      *cue.Context
	manifest cue.Value
	unit     cue.Value
}

// NewSchemaValidator compiles the embedded schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(manifestSchema)
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	manifest := compiled.LookupPath(cue.ParsePath("#Manifest"))
	if err := manifest.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve #Manifest: %w", err)
	}
	unit := compiled.LookupPath(cue.ParsePath("#Unit"))
	if err := unit.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve #Unit: %w", err)
	}

	return &SchemaValidator{ctx: ctx, manifest: manifest, unit: unit}, nil
}

// ValidateManifest checks a whole manifest document.
func (v *SchemaValidator) ValidateManifest(doc map[string]interface{}) error {
	return v.validate(v.manifest, doc)
}

// ValidateUnit checks a single unit document, as produced by a
// generator script.
func (v *SchemaValidator) ValidateUnit(doc map[string]interface{}) error {
	return v.validate(v.unit, doc)
}

func (v *SchemaValidator) validate(schema cue.Value, doc map[string]interface{}) error {
	data := v.ctx.Encode(doc)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Violations: convertCUEErrors(err)}
	}
	return nil
}

// ValidationError is a single schema rule violation.
type ValidationError struct {
	// Path is the field path within the document ("units.0.name").
	Path string `json:"path,omitempty"`

	// Line and Column locate the violation in the source when known.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Message is the rule that failed.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Path != "" {
		return e.Path + ": " + e.Message
	}
	return e.Message
}

// SchemaError aggregates every violation found in one document.
type SchemaError struct {
	Violations []ValidationError
}

func (e *SchemaError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return "manifest schema: " + strings.Join(msgs, "; ")
}

func convertCUEErrors(err error) []ValidationError {
	list := cueerrors.Errors(err)
	out := make([]ValidationError, 0, len(list))
	for _, e := range list {
		ve := ValidationError{Message: e.Error()}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
