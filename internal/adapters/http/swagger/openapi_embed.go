package swagger

import _ "embed"

// OpenAPI is the embedded OpenAPI YAML document.
//
//go:embed openapi.yaml
var OpenAPI []byte
