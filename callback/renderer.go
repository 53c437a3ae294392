package callback

import (
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*
var templateFS embed.FS

// CSS content
var cssContent string

func init() {
	// Read the CSS file content
	cssBytes, err := templateFS.ReadFile("templates/styles.css")
	if err != nil {
		panic(err)
	}
	cssContent = string(cssBytes)
}

// Templates
var (
	tmplRelay       = template.Must(template.ParseFS(templateFS, "templates/relay.html"))
	tmplError       = template.Must(template.ParseFS(templateFS, "templates/error.html"))
	tmplTokenIssued = template.Must(template.ParseFS(templateFS, "templates/success.html"))
)

type Renderer interface {
	RenderCallbackRelay(w io.Writer) error
	RenderCallbackTokenIssued(w io.Writer) error
	RenderCallbackError(w io.Writer, message string) error
}

type renderer struct{}

// RenderCallbackRelay renders the page that re-posts fragment parameters.
func (r *renderer) RenderCallbackRelay(w io.Writer) error {
	data := struct {
		CSS template.CSS
	}{
		CSS: template.CSS(cssContent),
	}
	return tmplRelay.Execute(w, data)
}

// RenderCallbackTokenIssued renders a success message after the token arrived.
func (r *renderer) RenderCallbackTokenIssued(w io.Writer) error {
	data := struct {
		CSS template.CSS
	}{
		CSS: template.CSS(cssContent),
	}
	return tmplTokenIssued.Execute(w, data)
}

// RenderCallbackError renders a failed authorization.
func (r *renderer) RenderCallbackError(w io.Writer, message string) error {
	data := struct {
		CSS     template.CSS
		Message string
	}{
		CSS:     template.CSS(cssContent),
		Message: message,
	}
	return tmplError.Execute(w, data)
}
