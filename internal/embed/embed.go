package embed

import (
	"embed"
)

// publicFS contains the cockpit page
//
//go:embed all:public
var publicFS embed.FS

// CockpitPage returns the HTML served at /.
func CockpitPage() ([]byte, error) {
	return publicFS.ReadFile("public/index.html")
}
