package slurmapi

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/remote"
)

// DefaultOpenAPIPath is where the fetched document is written.
const DefaultOpenAPIPath = "slurm_openapi.json"

const schemaURL = "mem://slurmmon/openapi-document.schema.json"

//go:embed schema/openapi-document.schema.json
var documentSchema []byte

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema *jsonschema.Schema
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(documentSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks that body looks like an OpenAPI 3 document.
func ValidateDocument(body []byte) error {
	sch, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}

	var document any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&document); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return sch.Validate(document)
}

// OpenAPI fetches /openapi.json and returns the body untouched.
func (c *Client) OpenAPI(ctx context.Context) ([]byte, error) {
	const path = "/openapi.json"
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(path, resp)
	}
	return resp.Body, nil
}

// Paths lists the API paths of a document, sorted.
func Paths(body []byte) []string {
	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// OpenAPIOperation fetches the document and writes it verbatim to dest. A
// document that fails validation is still written; the problem is logged.
// The operation returns the path written.
func OpenAPIOperation(dest string, validate bool, opts Options) remote.OperationFunc[string] {
	if dest == "" {
		dest = DefaultOpenAPIPath
	}
	return func(ctx context.Context, oc remote.OperationContext) (string, error) {
		client := NewClient(oc, opts)
		body, err := client.OpenAPI(ctx)
		if err != nil {
			return "", err
		}

		if validate {
			if err := ValidateDocument(body); err != nil {
				client.log.Warn("OpenAPI document does not validate: %s", firstLine(err.Error()))
			}
		}

		if dir := filepath.Dir(dest); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", errors.WrapWithCode(err, errors.ErrStore,
					fmt.Sprintf("Can't create %s", dir), "")
			}
		}
		if err := os.WriteFile(dest, body, 0644); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrStore,
				fmt.Sprintf("Can't write OpenAPI document to %s", dest),
				"Check openapi.path and directory permissions")
		}
		return dest, nil
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
