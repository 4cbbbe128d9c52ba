// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"net/http"
)

const scalarHTML = `<!doctype html>
<html>
  <head>
    <title>gqlgate API Reference</title>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
  </head>
  <body>
    <script id="api-reference" type="application/json">
    %s
    </script>
    <script>
      var configuration = {
        theme: "saturn",
        metaData: {
          title: "gqlgate API",
          description: "API Reference for gqlgate",
        },
        showServers: false
      }

      document.getElementById('api-reference').dataset.configuration =
        JSON.stringify(configuration)
    </script>
    <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
  </body>
</html>`

// ServeScalar serves the Scalar API reference page
func ServeScalar(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprintf(w, scalarHTML, openapiSpec); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
