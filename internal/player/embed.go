package player

import (
	"html/template"
	"io"
)

var embedPage = template.Must(template.New("embed").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
html, body { margin: 0; height: 100%; background: #000; }
.frame { width: 100%; height: 100%; aspect-ratio: 16/9; }
iframe { width: 100%; height: 100%; border: none; }
</style>
</head>
<body>
<div class="frame">
<iframe src="{{.URL}}" allow="autoplay; fullscreen" allowfullscreen title="Stream Player Fallback"></iframe>
</div>
</body>
</html>
`))

// RenderEmbed writes the fallback page that embeds url in an iframe.
func RenderEmbed(w io.Writer, title, url string) error {
	if title == "" {
		title = "Stream Player Fallback"
	}
	return embedPage.Execute(w, struct{ Title, URL string }{title, url})
}
