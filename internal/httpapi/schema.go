// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/authcore/internal/auth"
)

// Request schema names.
const (
	SchemaRegister       = "register"
	SchemaLogin          = "login"
	SchemaForgotPassword = "forgot-password"
	SchemaResetPassword  = "reset-password"
	SchemaUpdateProfile  = "update-profile"
)

var requestTypes = map[string]any{
	SchemaRegister:       &RegisterRequest{},
	SchemaLogin:          &LoginRequest{},
	SchemaForgotPassword: &ForgotPasswordRequest{},
	SchemaResetPassword:  &ResetPasswordRequest{},
	SchemaUpdateProfile:  &UpdateProfileRequest{},
}

var (
	compileOnce sync.Once
	compiled    map[string]*jschema.Schema
	compileErr  error
)

// SchemaNames lists the request schemas in a stable order.
func SchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for name := range requestTypes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SchemaID returns the $id of a request schema.
func SchemaID(name string) string {
	return "https://holomush.dev/schemas/authcore/" + name + ".schema.json"
}

// GenerateSchema generates the JSON Schema for a request body.
// Fields are not required by the schema: missing fields are reported by the
// field rules with a specific message.
func GenerateSchema(name string) ([]byte, error) {
	v, ok := requestTypes[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("unknown request schema")
	}

	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(SchemaID(name))
	schema.Title = "AuthCore " + name + " request"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").With("name", name).Wrap(err)
	}
	return data, nil
}

func compiledSchemas() (map[string]*jschema.Schema, error) {
	compileOnce.Do(func() {
		c := jschema.NewCompiler()
		out := make(map[string]*jschema.Schema, len(requestTypes))
		for _, name := range SchemaNames() {
			data, err := GenerateSchema(name)
			if err != nil {
				compileErr = err
				return
			}
			var doc any
			if err := json.Unmarshal(data, &doc); err != nil {
				compileErr = oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
				return
			}
			if err := c.AddResource(SchemaID(name), doc); err != nil {
				compileErr = oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
				return
			}
			sch, err := c.Compile(SchemaID(name))
			if err != nil {
				compileErr = oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
				return
			}
			out[name] = sch
		}
		compiled = out
	})
	return compiled, compileErr
}

// checkShape validates a request body against the named schema. Shape
// violations come back as an *auth.ValidationError naming the offending
// fields.
func checkShape(name string, body []byte) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	sch, ok := schemas[name]
	if !ok {
		return oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("unknown request schema")
	}

	inst, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		ve := &auth.ValidationError{}
		ve.Add("body", "Request body must be valid JSON")
		return ve
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var schemaErr *jschema.ValidationError
	if !errors.As(err, &schemaErr) {
		return oops.Code("SCHEMA_VALIDATE_FAILED").With("name", name).Wrap(err)
	}

	ve := &auth.ValidationError{}
	seen := make(map[string]bool)
	for _, leaf := range leaves(schemaErr) {
		field := "body"
		if len(leaf.InstanceLocation) > 0 {
			field = leaf.InstanceLocation[0]
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		if field == "body" {
			ve.Add(field, "Request body must be a JSON object")
		} else {
			ve.Add(field, "Invalid value")
		}
	}
	if len(ve.Fields) == 0 {
		ve.Add("body", "Request body must be a JSON object")
	}
	return ve
}

func leaves(err *jschema.ValidationError) []*jschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jschema.ValidationError{err}
	}
	var out []*jschema.ValidationError
	for _, cause := range err.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}
