// Package scripts embeds the Risor analyzer scripts: analyze/<language>.risor
// emits AST nodes and declaration contexts for one file, link/<language>.risor
// emits call and usage relations once every file has been analyzed.
package scripts

import "embed"

//go:embed analyze/*.risor link/*.risor
var FS embed.FS
