package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// Document formats understood by the decoder.
const (
	FormatYAML = "yaml"
	FormatCUE  = "cue"
)

// Decoder decodes and validates repository documents and module descriptors.
// It is safe for concurrent use.
type Decoder struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewDecoder creates a decoder with the built-in schemas.
func NewDecoder() *Decoder {
	ctx := cuecontext.New()
	return &Decoder{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry.
func (d *Decoder) Schemas() *SchemaRegistry {
	return d.schemas
}

// FormatOf picks the document format from a location's extension. JSON is
// read as YAML; anything unrecognized defaults to YAML.
func FormatOf(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".cue") {
		return FormatCUE
	}
	return FormatYAML
}

// DecodeRepository decodes a repository document fetched from location.
// Problems are reported as a Configuration error wrapping a *DocumentError.
func (d *Decoder) DecodeRepository(location string, data []byte) (*RepositoryDocument, error) {
	var doc RepositoryDocument

	switch FormatOf(location) {
	case FormatCUE:
		if err := d.decodeCUE(location, data, SchemaRepository, &doc); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, d.documentError(location, []ValidationError{{File: location, Message: err.Error()}})
		}
	}

	if err := d.validate(location, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeDescriptor decodes a module descriptor YAML document.
func (d *Decoder) DecodeDescriptor(location string, data []byte) (*engine.ModuleDescriptor, error) {
	var desc engine.ModuleDescriptor

	switch FormatOf(location) {
	case FormatCUE:
		if err := d.decodeCUE(location, data, SchemaModule, &desc); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, d.documentError(location, []ValidationError{{File: location, Message: err.Error()}})
		}
	}

	if err := d.validate(location, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// decodeCUE compiles a CUE document, closes it with a schema definition and
// decodes the result into out.
func (d *Decoder) decodeCUE(location string, data []byte, schema string, out interface{}) error {
	val := d.ctx.CompileBytes(data, cue.Filename(location))
	if err := val.Err(); err != nil {
		return d.documentError(location, convertCUEErrors(err))
	}

	unified, err := d.schemas.Unify(schema, val)
	if err != nil {
		return d.documentError(location, convertCUEErrors(err))
	}

	if err := unified.Decode(out); err != nil {
		return d.documentError(location, []ValidationError{{File: location, Message: err.Error()}})
	}
	return nil
}

// validate runs struct tag validation and converts failures to
// ValidationErrors keyed by field namespace.
func (d *Decoder) validate(location string, v interface{}) error {
	err := d.validator.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) {
		return d.documentError(location, []ValidationError{{File: location, Message: err.Error()}})
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			File:    location,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
		})
	}
	return d.documentError(location, out)
}

func (d *Decoder) documentError(location string, errs []ValidationError) error {
	return engine.NewConfigurationError("malformed document", &DocumentError{
		Location: location,
		Errors:   errs,
	}).WithResource(location)
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		var v ValidationError
		if pos := errors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		v.Path = strings.Join(e.Path(), ".")
		v.Message = errors.Details(e, nil)
		out = append(out, v)
	}

	return out
}
