package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
)

// page is the view model of the generator form.
type page struct {
	Prompt   string
	Steps    string
	Guidance string
	AudioURL string
	FilePath string
	Error    string
	Examples []string
}

var examplePrompts = []string{"A Dog Barking", "A loud thunderstorm"}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Tango Audio Generator</title>
</head>
<body>
<h1>Tango Audio Generator</h1>
<p>Generate audio using the Tango latent diffusion model by providing a text prompt.
Tango uses the frozen instruction-tuned FLAN-T5 as its text encoder and a UNet
diffusion model to produce human, animal, natural and artificial sounds.</p>
<form method="post" action="/generate">
<label for="prompt">Prompt</label><br>
<textarea id="prompt" name="prompt" rows="2" cols="60" required>{{.Prompt}}</textarea><br>
<label for="steps">Steps</label>
<input id="steps" name="steps" type="number" min="1" value="{{.Steps}}">
<label for="guidance">Guidance</label>
<input id="guidance" name="guidance" type="number" min="1" step="0.1" value="{{.Guidance}}" title="1 disables guidance; leave empty for the default">
<button type="submit">Generate</button>
</form>
{{with .Examples}}<p>Examples:{{range .}}
<button type="button" onclick="document.getElementById('prompt').value=this.textContent">{{.}}</button>{{end}}</p>{{end}}
{{with .Error}}<p class="error" role="alert">{{.}}</p>{{end}}
{{if .AudioURL}}<h2>Generated Audio</h2>
<audio controls src="{{.AudioURL}}"></audio>
<p>Saved to <code>{{.FilePath}}</code></p>{{end}}
</body>
</html>
`))

func (h *handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	h.renderPage(w, http.StatusOK, page{})
}

func (h *handler) renderPage(w http.ResponseWriter, status int, p page) {
	if p.Steps == "" {
		p.Steps = strconv.Itoa(h.opts.defaultSteps)
	}
	if p.Guidance == "" {
		p.Guidance = strconv.FormatFloat(h.opts.defaultGuidance, 'g', -1, 64)
	}
	p.Examples = examplePrompts

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		writeError(w, http.StatusInternalServerError, "render page: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
