//go:build tools

// Package tools pins build-time generators in go.mod.
// oapi-codegen renders api/openapi.yaml (see internal/infra/api/apiv1/doc.go).
package tools

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
)
