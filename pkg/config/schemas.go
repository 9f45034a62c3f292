package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Names of the built-in schema definitions.
const (
	SchemaRepository = "#Repository"
	SchemaModule     = "#Module"
)

// SchemaRegistry manages CUE schema definitions used to validate documents.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchemas(builtinSchemas); err != nil {
		panic(fmt.Sprintf("built-in schemas do not compile: %v", err))
	}
	return sr
}

// RegisterSchemas compiles a CUE source and registers every definition it
// declares under its #name.
func (sr *SchemaRegistry) RegisterSchemas(source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename("schemas.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schemas: %w", err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}
	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		sr.schemas[iter.Selector().String()] = iter.Value()
	}
	return nil
}

// GetSchema retrieves a definition by name, e.g. "#Repository".
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify applies a named definition to a value and checks the result is
// concrete.
func (sr *SchemaRegistry) Unify(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(name string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Unify(name, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered definition names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSchemas = `
// Repository is a feature repository document.
#Repository: {
	name?: string
	repositories?: [...string]
	features?: [...#Feature]
	modules?: [...#Offering]
}

#Feature: {
	name:    string & =~"^[A-Za-z0-9._-]+$"
	version: string & !=""
	dependencies?: [...#Dependency]
	modules?: [...#ModuleRef]
}

#Dependency: {
	name:     string & !=""
	version?: string
}

#ModuleRef: {
	location:    string & !=""
	transitive?: bool
}

#Offering: {
	location: string & !=""
	module:   #Module
}

// Module is the descriptor carried by a module artifact.
#Module: {
	name:    string & !=""
	version: string & !=""
	extends?: {
		host:     string & !=""
		version?: string
	}
	provides?: [...{
		name:     string & !=""
		version?: string
		attributes?: {[string]: string}
	}]
	services?: [...string]
	requires?: [...{
		kind?:     "capability" | "module" | "service"
		name:      string & !=""
		version?:  string
		optional?: bool
		filter?:   string
	}]
}
`
