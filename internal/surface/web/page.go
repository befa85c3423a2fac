package web

import (
	"html/template"
	"io"
)

// pageData feeds the window page template.
type pageData struct {
	Title    string
	Index    int
	WindowID string
	Markup   template.HTML
}

// The bootstrap evaluates every text message from the server as a script and
// exposes window.chartbus.callback for the markup to report events. The window
// id is rendered into every load, so a reloaded page keeps its identity.
var pageTemplate = template.Must(template.New("window").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>html, body { margin: 0; height: 100%; overflow: hidden; }</style>
<script>
(function () {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/windows/{{.Index}}/ws");
  const backlog = [];
  ws.binaryType = "arraybuffer";
  ws.onopen = function () { while (backlog.length) ws.send(backlog.shift()); };
  ws.onmessage = function (e) {
    try { (0, eval)(e.data); } catch (err) { console.error("chartbus script failed", err); }
  };
  function send(msg) { ws.readyState === 1 ? ws.send(msg) : backlog.push(msg); }
  window.chartbus = {
    id: {{.WindowID}},
    index: {{.Index}},
    callback: function (message) { send(message); },
    emit: function (name) {
      const args = Array.prototype.slice.call(arguments, 1).map(String);
      send(name + "_~_" + window.chartbus.id + (args.length ? "_~_" + args.join(";;;") : ""));
    },
  };
})();
</script>
</head>
<body>
{{.Markup}}
</body>
</html>
`))

func renderPage(w io.Writer, data pageData) error {
	return pageTemplate.Execute(w, data)
}
