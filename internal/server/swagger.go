package server

//go:generate swag init -g internal/server/server.go -o internal/server --ot go --parseInternal

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"
	"github.com/swaggo/swag"
)

// @title Spyglass API
// @version 0.1
// @description Competitor page change detection: targets, captures, version
// @description history, alerts and a live event stream.
// @contact.name Spyglass Maintainers
// @contact.url https://github.com/raysh454/spyglass
// @BasePath /

// swaggerTemplate is the baseline document; `go generate` regenerates the
// full path set from the handler annotations.
const swaggerTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {}
}`

var swaggerInfo = &swag.Spec{
	Version:          "0.1",
	BasePath:         "/",
	Title:            "Spyglass API",
	Description:      "Competitor page change detection: targets, captures, version history, alerts and a live event stream.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  swaggerTemplate,
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}

// swaggerHandler serves the swagger UI under /swagger/.
func swaggerHandler() http.HandlerFunc {
	return httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json"))
}
