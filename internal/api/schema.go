package api

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wesleyorama2/mobu/internal/config"
)

//go:embed flock.schema.json
var flockSchemaJSON string

var flockSchema = mustCompile("flock.schema.json", flockSchemaJSON)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("invalid schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateFlock checks a create body against the flock schema. It returns
// nil when the body is acceptable.
func validateFlock(body []byte) *config.ValidationErrors {
	errs := &config.ValidationErrors{}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		errs.Add("", fmt.Sprintf("invalid JSON: %v", err))
		return errs
	}

	if err := flockSchema.Validate(data); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			collect(verr, errs)
		} else {
			errs.Add("", err.Error())
		}
	}

	if !errs.HasErrors() {
		return nil
	}
	return errs
}

// collect flattens the leaves of a validation error tree.
func collect(err *jsonschema.ValidationError, errs *config.ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(fieldName(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collect(cause, errs)
	}
}

// fieldName turns a JSON pointer such as /business/options/queries/0 into
// business.options.queries[0].
func fieldName(pointer string) string {
	var sb strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if part == "" {
			continue
		}
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
