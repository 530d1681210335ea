package api

import (
	"fmt"
	"sort"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering the routes of every mounted service.
func buildOpenAPIDoc(services []string) map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": operation("healthz", "Process health", "ops", map[string]string{"200": "Healthy"}),
		},
		"/events": map[string]any{
			"get": operation("events", "Lifecycle events (SSE)", "ops", map[string]string{"200": "Event stream"}),
		},
	}

	names := append([]string(nil), services...)
	sort.Strings(names)

	for _, name := range names {
		for path, item := range buildServicePaths(name) {
			paths[path] = item
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Mediaflow",
			"version": "1.0",
		},
		"paths": paths,
	}
}

// buildServicePaths builds OpenAPI path items for a single service.
func buildServicePaths(name string) map[string]any {
	base := "/" + name
	op := func(id, summary string, responses map[string]string) map[string]any {
		return operation(fmt.Sprintf("%s__%s", name, id), summary, name, responses)
	}
	baseParam := []any{map[string]any{"name": "base", "in": "path", "required": true, "schema": map[string]any{"type": "string"}}}

	upload := op("upload", "Upload a batch of files", map[string]string{"200": "Batch accepted", "400": "Validation error"})
	upload["requestBody"] = map[string]any{
		"required": true,
		"content": map[string]any{
			"multipart/form-data": map[string]any{
				"schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"files": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string", "format": "binary"},
						},
					},
				},
			},
		},
	}

	deleteOp := op("delete", "Delete an artifact group", map[string]string{"200": "Deleted", "404": "Not found"})
	deleteOp["parameters"] = baseParam
	single := op("download_single", "Download one artifact group as zip", map[string]string{"200": "Zip archive", "404": "Not found"})
	single["parameters"] = baseParam
	preview := op("preview", "Text preview of an artifact group", map[string]string{"200": "Preview", "404": "Not found"})
	preview["parameters"] = baseParam

	return map[string]any{
		base + "/upload":                 map[string]any{"post": upload},
		base + "/cancel":                 map[string]any{"post": op("cancel", "Cancel running work", map[string]string{"200": "Cancellation requested"})},
		base + "/progress":               map[string]any{"get": op("progress", "Current progress", map[string]string{"200": "Progress"})},
		base + "/files":                  map[string]any{"get": op("files", "List completed artifacts", map[string]string{"200": "Artifact groups"})},
		base + "/files/{base}":           map[string]any{"delete": deleteOp},
		base + "/download/{path}":        map[string]any{"get": op("download", "Download one file", map[string]string{"200": "File", "404": "Not found"})},
		base + "/download-single/{base}": map[string]any{"get": single},
		base + "/batch-download":         map[string]any{"get": op("batch_download", "Download every artifact as zip", map[string]string{"200": "Zip archive", "404": "No files"})},
		base + "/preview/{base}":         map[string]any{"get": preview},
		base + "/history":                map[string]any{"get": op("history", "Recent job outcomes", map[string]string{"200": "History entries"})},
	}
}

func operation(id, summary, tag string, responses map[string]string) map[string]any {
	resp := make(map[string]any, len(responses))
	for code, desc := range responses {
		resp[code] = map[string]any{"description": desc}
	}
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{tag},
		"responses":   resp,
	}
}
