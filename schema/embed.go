package schema

import _ "embed"

// EcosystemV1Schema contains the JSON schema for ecosystem files.
//
//go:embed ecosystem.v1.json
var EcosystemV1Schema []byte
