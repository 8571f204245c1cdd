package server

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type page struct {
	Title   string
	Refresh string
}

type loginPage struct {
	page
	Error     string
	StartPath string
}

type callbackPage struct {
	page
	Status string
	Target string
}

type dashboardPage struct {
	page
	User       map[string]any
	Message    string
	LogoutPath string
	CSRFField  string
	CSRFToken  string
}
