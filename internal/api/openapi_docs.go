package api

import (
	_ "embed"
	"net/http"
)

//go:embed openapi.yml
var openAPISpec []byte

// OpenAPISpec returns the embedded OpenAPI document for /api/v1.
func OpenAPISpec() []byte {
	return openAPISpec
}

const openAPIDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>storagetier API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.17.14/swagger-ui.css" />
  <style>
    html, body { height: 100%; margin: 0; padding: 0; }
    #swagger-ui { height: 100%; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5.17.14/swagger-ui-bundle.js"></script>
  <script>
    window.addEventListener('load', function () {
      SwaggerUIBundle({
        url: new URL('/openapi.yml', window.location.href).toString(),
        dom_id: '#swagger-ui',
        presets: [SwaggerUIBundle.presets.apis],
        requestInterceptor: function (req) {
          var token = window.localStorage.getItem('storagetier.apiToken');
          if (token) { req.headers['X-Api-Token'] = token; }
          return req;
        }
      });
    });
  </script>
</body>
</html>
`

func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(openAPISpec)
}

func serveOpenAPIDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(openAPIDocsHTML))
}
