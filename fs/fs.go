// Package appfs embeds the app's static files: database migrations, email templates & assets.
package appfs

import "embed"

//go:embed migrations/*.sql templates assets
var FS embed.FS
