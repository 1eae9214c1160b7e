package web

import "embed"

// Templates embeds HTML templates for emails and reports.
//
//go:embed templates/*/*.html
var Templates embed.FS
