// Package web serves the small set of static pages bundled with the binary.
package web

import (
	"embed"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed templates
var files embed.FS

const (
	AuthPage     = "templates/auth.html"
	IndexPage    = "templates/index.html"
	NotFoundPage = "templates/404.html"
	GiteaLogo    = "templates/gitea.svg"
)

// Serve writes an embedded file with the given status code.
func Serve(c *gin.Context, status int, name string) {
	data, err := files.ReadFile(name)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, contentType(name), data)
}

// Handler returns a gin handler that always serves name with status.
func Handler(status int, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		Serve(c, status, name)
	}
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".svg") {
		return "image/svg+xml"
	}
	return "text/html; charset=utf-8"
}
