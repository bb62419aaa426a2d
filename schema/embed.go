package schema

import _ "embed"

//go:embed requirements.schema.json
var RequirementsSchema []byte
