package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
)

// Schema primitives shared by the request and response builders.

func stringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: description,
	}}
}

func dateSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Format:      "date",
		Description: description,
	}}
}

func dateTimeSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Format:      "date-time",
		Description: description,
	}}
}

func intSchema(format, description string, min *float64) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"integer"},
		Format:      format,
		Description: description,
		Min:         min,
	}}
}

func enumSchema(description string, values ...string) *openapi3.SchemaRef {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: description,
		Enum:        enum,
	}}
}

func arraySchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func ptr(f float64) *float64 { return &f }

func statusValues() []string {
	out := make([]string, len(license.Statuses))
	for i, s := range license.Statuses {
		out[i] = string(s)
	}
	return out
}

func editionValues() []string {
	out := make([]string, len(model.Editions))
	for i, e := range model.Editions {
		out[i] = string(e)
	}
	return out
}

func licenseStatusValues() []string {
	return []string{string(model.LicenseActive), string(model.LicenseExpired), string(model.LicenseRevoked)}
}

func actionValues() []string {
	actions := []model.Action{
		model.ActionCreate, model.ActionActivate, model.ActionRenew,
		model.ActionUpgrade, model.ActionRevoke, model.ActionSync,
	}
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
