// Package web 内嵌页面模板和邮件模板
package web

import "embed"

//go:embed templates
var FS embed.FS
