// Package contract describes the listing call contract as an OpenAPI 3
// document and validates values against it.
package contract

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/pavelpascari/listsim/pkg/listing"
	"github.com/pavelpascari/listsim/pkg/query"
	"github.com/pavelpascari/listsim/pkg/records"
)

// Component schema names.
const (
	SchemaUser               = "User"
	SchemaQueryCriteria      = "QueryCriteria"
	SchemaFetchRequest       = "FetchRequest"
	SchemaPaginationMetadata = "PaginationMetadata"
	SchemaAPIError           = "ApiError"
	SchemaPageResponse       = "PageResponse"
)

const componentPrefix = "#/components/schemas/"

// Info represents the OpenAPI info object.
type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Config holds generation configuration.
type Config struct {
	Info Info `json:"info"`
}

// Option configures a Generator.
type Option func(*Config)

// WithInfo sets the document title and version.
func WithInfo(title, version string) Option {
	return func(c *Config) {
		c.Info.Title = title
		c.Info.Version = version
	}
}

// WithDescription sets the document description.
func WithDescription(description string) Option {
	return func(c *Config) {
		c.Info.Description = description
	}
}

// Generator builds the contract document.
type Generator struct {
	config Config
	// named maps Go types to the component they are published as.
	named map[reflect.Type]string
}

// NewGenerator creates a generator.
func NewGenerator(opts ...Option) *Generator {
	config := Config{
		Info: Info{
			Title:       "listsim",
			Version:     "1.0.0",
			Description: "Paginated, filtered and sorted user listing with simulated latency and failures.",
		},
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &Generator{
		config: config,
		named: map[reflect.Type]string{
			reflect.TypeOf(records.User{}):     SchemaUser,
			reflect.TypeOf(query.Criteria{}):   SchemaQueryCriteria,
			reflect.TypeOf(query.PageMeta{}):   SchemaPaginationMetadata,
			reflect.TypeOf(listing.APIError{}): SchemaAPIError,
		},
	}
}

// Generate builds the contract with default settings.
func Generate() (*openapi3.T, error) {
	return NewGenerator().Generate()
}

// Generate builds the contract document.
func (g *Generator) Generate() (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.config.Info.Title,
			Version:     g.config.Info.Version,
			Description: g.config.Info.Description,
		},
		Paths: &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	for _, t := range []reflect.Type{
		reflect.TypeOf(records.User{}),
		reflect.TypeOf(query.PageMeta{}),
		reflect.TypeOf(listing.APIError{}),
		reflect.TypeOf(query.Criteria{}),
	} {
		schema, err := g.createSchemaFromType(t, false)
		if err != nil {
			return nil, fmt.Errorf("failed to describe %s: %w", g.named[t], err)
		}
		doc.Components.Schemas[g.named[t]] = schema
	}

	fetchRequest, err := g.createSchemaFromType(reflect.TypeOf(listing.FetchRequest{}), false)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", SchemaFetchRequest, err)
	}
	doc.Components.Schemas[SchemaFetchRequest] = fetchRequest
	doc.Components.Schemas[SchemaPageResponse] = g.pageResponseSchema(doc.Components.Schemas)

	doc.Paths.Set("/pages", &openapi3.PathItem{
		Post: g.fetchPageOperation(doc.Components.Schemas),
	})

	return doc, nil
}

// pageResponseSchema describes the response envelope. Data, pagination and
// error are always present and null when not applicable.
func (g *Generator) pageResponseSchema(schemas openapi3.Schemas) *openapi3.SchemaRef {
	nullableRef := func(name string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Nullable: true,
				AllOf:    openapi3.SchemaRefs{g.componentRef(schemas, name)},
			},
		}
	}

	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"object"},
			Description: "Response envelope. Successful responses carry data and pagination; failed ones carry only error.",
			Properties: openapi3.Schemas{
				"message":   openapi3.NewStringSchema().NewRef(),
				"timestamp": openapi3.NewDateTimeSchema().NewRef(),
				"success":   openapi3.NewBoolSchema().NewRef(),
				"data": {
					Value: &openapi3.Schema{
						Type:     &openapi3.Types{"array"},
						Nullable: true,
						Items:    g.componentRef(schemas, SchemaUser),
					},
				},
				"pagination": nullableRef(SchemaPaginationMetadata),
				"error":      nullableRef(SchemaAPIError),
			},
			Required: []string{"message", "timestamp", "success", "data", "pagination", "error"},
		},
	}
}

func (g *Generator) fetchPageOperation(schemas openapi3.Schemas) *openapi3.Operation {
	jsonContent := func(name string) openapi3.Content {
		return openapi3.NewContentWithJSONSchemaRef(g.componentRef(schemas, name))
	}

	responses := openapi3.NewResponses()
	responses.Delete("default")
	responses.Set("200", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription("Success or simulated failure envelope").
			WithContent(jsonContent(SchemaPageResponse)),
	})
	responses.Set("400", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription("Invalid query criteria").
			WithContent(jsonContent(SchemaAPIError)),
	})

	return &openapi3.Operation{
		OperationID: "fetchPage",
		Summary:     "Fetch one page of users",
		Description: "A newer request under the same key cancels the one still in flight.",
		RequestBody: &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithContent(jsonContent(SchemaFetchRequest)),
		},
		Responses: responses,
	}
}

func (g *Generator) componentRef(schemas openapi3.Schemas, name string) *openapi3.SchemaRef {
	var value *openapi3.Schema
	if ref, ok := schemas[name]; ok {
		value = ref.Value
	}
	return openapi3.NewSchemaRef(componentPrefix+name, value)
}

// createSchemaFromType creates a schema from a Go type. Named types other
// than the root are emitted as component references when asRef is set.
func (g *Generator) createSchemaFromType(t reflect.Type, asRef bool) (*openapi3.SchemaRef, error) {
	if t == reflect.TypeOf(time.Time{}) {
		return openapi3.NewDateTimeSchema().NewRef(), nil
	}

	if name, ok := g.named[t]; ok && asRef {
		schema, err := g.createSchemaFromType(t, false)
		if err != nil {
			return nil, err
		}
		return openapi3.NewSchemaRef(componentPrefix+name, schema.Value), nil
	}

	schema := &openapi3.Schema{}

	switch t.Kind() {
	case reflect.String:
		schema.Type = &openapi3.Types{"string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		schema.Type = &openapi3.Types{"integer"}
	case reflect.Float32, reflect.Float64:
		schema.Type = &openapi3.Types{"number"}
	case reflect.Bool:
		schema.Type = &openapi3.Types{"boolean"}
	case reflect.Struct:
		schema.Type = &openapi3.Types{"object"}
		schema.Properties = make(openapi3.Schemas)

		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			jsonName := field.Tag.Get("json")
			if jsonName == "" || jsonName == "-" {
				continue
			}

			parts := strings.Split(jsonName, ",")
			fieldName := parts[0]
			omitempty := len(parts) > 1 && parts[1] == "omitempty"

			fieldSchema, err := g.createSchemaFromType(field.Type, true)
			if err != nil {
				return nil, err
			}
			if fieldSchema.Ref == "" {
				g.applyValidationToSchema(fieldSchema, field.Tag.Get("validate"))
			}

			schema.Properties[fieldName] = fieldSchema

			if !omitempty {
				schema.Required = append(schema.Required, fieldName)
			}
		}
	case reflect.Slice, reflect.Array:
		schema.Type = &openapi3.Types{"array"}
		itemSchema, err := g.createSchemaFromType(t.Elem(), true)
		if err != nil {
			return nil, err
		}
		schema.Items = itemSchema
	case reflect.Map:
		schema.Type = &openapi3.Types{"object"}
		itemSchema, err := g.createSchemaFromType(t.Elem(), true)
		if err != nil {
			return nil, err
		}
		schema.AdditionalProperties = openapi3.AdditionalProperties{Schema: itemSchema}
	case reflect.Ptr:
		return g.createSchemaFromType(t.Elem(), asRef)
	case reflect.Interface:
		schema.Type = &openapi3.Types{"object"}
	default:
		return nil, fmt.Errorf("unsupported kind %s", t.Kind())
	}

	return &openapi3.SchemaRef{Value: schema}, nil
}

// applyValidationToSchema maps validator tags onto schema constraints. Rules
// after "dive" apply to elements and are skipped.
func (g *Generator) applyValidationToSchema(schemaRef *openapi3.SchemaRef, validate string) {
	if validate == "" || schemaRef.Value == nil {
		return
	}

	for _, rule := range strings.Split(validate, ",") {
		rule = strings.TrimSpace(rule)
		if rule == "dive" {
			return
		}
		g.applyValidationRule(schemaRef.Value, rule)
	}
}

func (g *Generator) applyValidationRule(schema *openapi3.Schema, rule string) {
	name, arg, _ := strings.Cut(rule, "=")

	switch name {
	case "min":
		if n, err := strconv.Atoi(arg); err == nil {
			g.applyBound(schema, n, true)
		}
	case "max":
		if n, err := strconv.Atoi(arg); err == nil {
			g.applyBound(schema, n, false)
		}
	case "len":
		if n, err := strconv.Atoi(arg); err == nil {
			g.applyBound(schema, n, true)
			g.applyBound(schema, n, false)
		}
	case "oneof":
		for _, v := range strings.Fields(arg) {
			schema.Enum = append(schema.Enum, v)
		}
	case "uuid":
		schema.Format = "uuid"
	}
}

func (g *Generator) applyBound(schema *openapi3.Schema, n int, lower bool) {
	if schema.Type == nil || len(*schema.Type) == 0 || n < 0 {
		return
	}

	switch (*schema.Type)[0] {
	case "string":
		if lower {
			schema.MinLength = uint64(n)
		} else {
			maxLen := uint64(n)
			schema.MaxLength = &maxLen
		}
	case "integer", "number":
		if lower {
			schema.WithMin(float64(n))
		} else {
			schema.WithMax(float64(n))
		}
	}
}

// GenerateJSON renders doc as indented JSON.
func GenerateJSON(doc *openapi3.T) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI document to JSON: %w", err)
	}

	return data, nil
}

// GenerateYAML renders doc as YAML.
func GenerateYAML(doc *openapi3.T) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI document to YAML: %w", err)
	}

	return data, nil
}

// ValidateValue checks that v, once encoded as JSON, conforms to the named
// component schema of doc.
func ValidateValue(doc *openapi3.T, component string, v any) error {
	ref, ok := doc.Components.Schemas[component]
	if !ok || ref.Value == nil {
		return fmt.Errorf("unknown schema %q", component)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}

	if err := ref.Value.VisitJSON(generic); err != nil {
		return fmt.Errorf("value does not match %s: %w", component, err)
	}

	return nil
}
