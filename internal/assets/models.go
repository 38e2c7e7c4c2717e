package assets

import _ "embed"

// ModelsData is the built-in model catalog, grouped by provider.
//
//go:embed models.json
var ModelsData []byte
