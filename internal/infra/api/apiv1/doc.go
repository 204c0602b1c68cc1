// Package apiv1 serves the document generation API under /api/v1.
package apiv1

// The embedded OpenAPI document is generated from api/openapi.yaml; handlers are hand-written.
//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -generate spec -package apiv1 -o spec.gen.go ../../../../api/openapi.yaml
