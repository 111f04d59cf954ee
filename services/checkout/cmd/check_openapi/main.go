// Command check_openapi verifies that the checkout OpenAPI document matches
// the routes and JSON payloads the checkout service actually serves.
package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"mentalia/pkg/domain"
	"mentalia/services/checkout/internal/app"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type schemaShape struct {
	Type       string
	Required   []string
	Properties map[string]string
}

// routes lists every path and method the checkout server registers.
var routes = map[string]string{
	"/healthz":               "get",
	"/create-checkout":       "post",
	"/create-portal-session": "post",
	"/check-premium":         "post",
	"/webhook":               "post",
}

// payloads binds schema names to the Go types encoded on the wire.
var payloads = map[string]reflect.Type{
	"CheckoutRequest": reflect.TypeOf(app.CheckoutRequest{}),
	"CheckoutSession": reflect.TypeOf(app.CheckoutSession{}),
	"PremiumStatus":   reflect.TypeOf(domain.PremiumStatus{}),
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <checkout-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) error {
	if err := validateRoutes(doc); err != nil {
		return err
	}
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	names := make([]string, 0, len(payloads))
	for name := range payloads {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			return err
		}
		if err := ensureSameShape(name, shapeFromSchema(s), shapeFromType(payloads[name])); err != nil {
			return err
		}
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func validateRoutes(doc openAPIDoc) error {
	for path, method := range routes {
		ops, ok := doc.Paths[path]
		if !ok {
			return fmt.Errorf("path %s missing", path)
		}
		if _, ok := ops[method]; !ok {
			return fmt.Errorf("path %s has no %s operation", path, method)
		}
	}
	for path := range doc.Paths {
		if _, ok := routes[path]; !ok {
			return fmt.Errorf("path %s is documented but not served", path)
		}
	}
	return nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New("ErrorResponse.required must include \"error\"")
	}
	if p, ok := s.Properties["error"]; !ok || p.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	if p, ok := s.Properties["details"]; ok && p.Type != "string" {
		return errors.New("ErrorResponse.details must be string")
	}
	return nil
}

func shapeFromSchema(s schema) schemaShape {
	out := schemaShape{
		Type:       s.Type,
		Required:   append([]string(nil), s.Required...),
		Properties: make(map[string]string, len(s.Properties)),
	}
	sort.Strings(out.Required)
	for name, prop := range s.Properties {
		out.Properties[name] = prop.Type
	}
	return out
}

// shapeFromType derives the schema a struct encodes to. Fields without
// omitempty are required.
func shapeFromType(t reflect.Type) schemaShape {
	out := schemaShape{Type: "object", Properties: map[string]string{}}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if !f.IsExported() || tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		out.Properties[name] = jsonType(f.Type)
		if !strings.Contains(opts, "omitempty") {
			out.Required = append(out.Required, name)
		}
	}
	sort.Strings(out.Required)
	return out
}

func jsonType(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeOf(time.Time{}) {
		return "string"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

func ensureSameShape(name string, doc, code schemaShape) error {
	if doc.Type != code.Type {
		return fmt.Errorf("%s type mismatch: %q vs %q", name, doc.Type, code.Type)
	}
	if strings.Join(doc.Required, ",") != strings.Join(code.Required, ",") {
		return fmt.Errorf("%s required mismatch: %v vs %v", name, doc.Required, code.Required)
	}
	for key, want := range code.Properties {
		got, ok := doc.Properties[key]
		if !ok {
			return fmt.Errorf("%s missing property %q", name, key)
		}
		if got != want {
			return fmt.Errorf("%s property %q type mismatch: %q vs %q", name, key, got, want)
		}
	}
	if len(doc.Properties) != len(code.Properties) {
		return fmt.Errorf("%s property count mismatch: %d vs %d", name, len(doc.Properties), len(code.Properties))
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
