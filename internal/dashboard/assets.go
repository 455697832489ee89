package dashboard

import "embed"

//go:embed assets/index.html
var assetsFS embed.FS
