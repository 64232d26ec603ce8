// Package api embeds the OpenAPI description of the serve endpoints.
package api

import _ "embed"

// OpenAPIDocument is the raw OpenAPI YAML.
//
//go:embed openapi.yaml
var OpenAPIDocument []byte
