// Package openapi generates the OpenAPI 3.1 document served at
// /openapi.json, covering the protocol endpoint and the management API.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI document for a Calgate deployment reachable
// at baseURL.
func Generate(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Calgate API",
			Description: "Multi-tenant calendar tool gateway: protocol endpoint for LLM clients plus self-service key and credential management.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	registerSchemas(doc)

	doc.Paths = openapi3.NewPaths()
	addGatewayPath(doc)
	addSessionPaths(doc)
	addKeyPaths(doc)
	addCredentialPaths(doc)
	addDashboardPaths(doc)
	addHealthPath(doc)

	return doc
}

// ---------------------------------------------------------------------------
// Component schemas
// ---------------------------------------------------------------------------

func registerSchemas(doc *openapi3.T) {
	doc.Components.Schemas["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"error": objectSchema(openapi3.Schemas{
			"code":    intSchema("int32", ""),
			"message": strSchema(""),
			"context": objectSchema(nil),
		}),
	})

	// The protocol endpoint uses a flat error shape, distinct from the
	// management envelope.
	doc.Components.Schemas["GatewayError"] = objectSchema(openapi3.Schemas{
		"error":     strSchema("Stable error identifier"),
		"message":   strSchema("Optional human-readable detail"),
		"timestamp": strSchema("Server time, ISO-8601"),
		"setupUrl":  strSchema("Remediation path, present only when credentials are missing"),
	})

	doc.Components.Schemas["GatewayRequest"] = objectSchema(openapi3.Schemas{
		"method": strSchema("One of initialize, tools/list, tools/call"),
		"params": objectSchema(openapi3.Schemas{
			"name":      strSchema("Tool name, required for tools/call"),
			"arguments": objectSchema(nil),
		}),
	})

	doc.Components.Schemas["ApiKey"] = objectSchema(openapi3.Schemas{
		"id":          intSchema("int64", ""),
		"key_preview": strSchema("Masked form of the key; the raw secret is returned only at creation"),
		"is_active":   boolSchema(),
		"created_at":  strSchema("ISO-8601"),
		"last_used":   strSchema("ISO-8601, null until first use"),
		"usage_count": intSchema("int64", "Best-effort verification counter"),
	})

	doc.Components.Schemas["GeneratedKey"] = objectSchema(openapi3.Schemas{
		"id":          intSchema("int64", ""),
		"api_key":     strSchema("Plaintext key; shown exactly once"),
		"key_preview": strSchema(""),
		"created_at":  strSchema("ISO-8601"),
	})

	doc.Components.Schemas["CredentialDescriptor"] = objectSchema(openapi3.Schemas{
		"client_id":     strSchema("OAuth client identifier"),
		"client_secret": strSchema("OAuth client secret, write-only"),
		"account_email": strSchema("Optional calendar account hint"),
	})

	doc.Components.Schemas["DashboardTotals"] = objectSchema(openapi3.Schemas{
		"total_users":     intSchema("int64", ""),
		"active_api_keys": intSchema("int64", ""),
		"connected_users": intSchema("int64", "Users with calendar credentials configured"),
		"total_requests":  intSchema("int64", ""),
	})

	doc.Components.Schemas["Analytics"] = objectSchema(openapi3.Schemas{
		"window_days":    intSchema("int32", ""),
		"total_requests": intSchema("int64", ""),
		"success_rate":   numberSchema("Successful / total for the window; 0 when the window is empty"),
		"tools_usage":    objectSchema(nil),
	})
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

func addGatewayPath(doc *openapi3.T) {
	op := &openapi3.Operation{
		Tags:        []string{"gateway"},
		Summary:     "Invoke the tool gateway",
		OperationID: "invokeGateway",
		Security:    securityAPIKeyOrBearer(),
		RequestBody: jsonBody("#/components/schemas/GatewayRequest", true),
		Responses: gatewayResponses("200",
			"Tool result with injected _meta {userId, timestamp, version, toolsCount}"),
	}
	doc.Paths.Set("/mcp", &openapi3.PathItem{Post: op})
}

func addSessionPaths(doc *openapi3.T) {
	login := &openapi3.Operation{
		Tags:        []string{"session"},
		Summary:     "Log in with email and password",
		OperationID: "login",
		RequestBody: inlineBody(objectSchema(openapi3.Schemas{
			"email":    strSchema(""),
			"password": strSchema(""),
		}), true),
		Responses: managementResponses("200", "Session token issued", objectSchema(openapi3.Schemas{
			"session_token": strSchema("JWT"),
			"token_type":    strSchema(""),
			"expires_in":    intSchema("int32", "Seconds"),
			"user_id":       strSchema(""),
			"name":          strSchema(""),
			"is_admin":      boolSchema(),
		})),
	}
	logout := &openapi3.Operation{
		Tags:        []string{"session"},
		Summary:     "Discard the current session",
		OperationID: "logout",
		Security:    securityBearer(),
		Responses:   managementResponses("200", "Session invalidated", successSchema()),
	}
	doc.Paths.Set("/api/v1/session", &openapi3.PathItem{Post: login, Delete: logout})
}

func addKeyPaths(doc *openapi3.T) {
	list := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "List the caller's API keys (previews only)",
		OperationID: "listKeys",
		Security:    securityBearer(),
		Responses: managementResponses("200", "Keys, newest first",
			listSchema("#/components/schemas/ApiKey")),
	}
	create := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Generate a new API key",
		Description: "The response carries the plaintext key. It cannot be retrieved again.",
		OperationID: "createKey",
		Security:    securityBearer(),
		Responses: managementResponses("201", "Key generated",
			openapi3.NewSchemaRef("#/components/schemas/GeneratedKey", nil)),
	}
	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{Get: list, Post: create})

	revoke := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Revoke one of the caller's API keys",
		OperationID: "revokeKey",
		Security:    securityBearer(),
		Parameters: openapi3.Parameters{
			pathParam("keyId", "API key identifier"),
		},
		Responses: managementResponses("200", "Key revoked", successSchema()),
	}
	doc.Paths.Set("/api/v1/keys/{keyId}", &openapi3.PathItem{Delete: revoke})
}

func addCredentialPaths(doc *openapi3.T) {
	put := &openapi3.Operation{
		Tags:        []string{"credentials"},
		Summary:     "Store or replace calendar credentials",
		OperationID: "putCredentials",
		Security:    securityBearer(),
		RequestBody: jsonBody("#/components/schemas/CredentialDescriptor", true),
		Responses:   managementResponses("200", "Credentials stored", successSchema()),
	}
	del := &openapi3.Operation{
		Tags:        []string{"credentials"},
		Summary:     "Delete stored calendar credentials",
		OperationID: "deleteCredentials",
		Security:    securityBearer(),
		Responses:   managementResponses("200", "Credentials deleted", successSchema()),
	}
	doc.Paths.Set("/api/v1/credentials", &openapi3.PathItem{Put: put, Delete: del})

	status := &openapi3.Operation{
		Tags:        []string{"credentials"},
		Summary:     "Report whether calendar credentials are configured",
		OperationID: "credentialStatus",
		Security:    securityBearer(),
		Responses: managementResponses("200", "Status", objectSchema(openapi3.Schemas{
			"configured": boolSchema(),
			"updated_at": strSchema("ISO-8601, present when configured"),
		})),
	}
	doc.Paths.Set("/api/v1/credentials/status", &openapi3.PathItem{Get: status})
}

func addDashboardPaths(doc *openapi3.T) {
	stats := &openapi3.Operation{
		Tags:        []string{"dashboard"},
		Summary:     "Deployment-wide entity counts (admin only)",
		OperationID: "dashboardStats",
		Security:    securityBearer(),
		Responses: managementResponses("200", "Totals",
			openapi3.NewSchemaRef("#/components/schemas/DashboardTotals", nil)),
	}
	doc.Paths.Set("/api/v1/dashboard/stats", &openapi3.PathItem{Get: stats})

	analytics := &openapi3.Operation{
		Tags:        []string{"dashboard"},
		Summary:     "Traffic aggregates over a trailing window (admin only)",
		OperationID: "dashboardAnalytics",
		Security:    securityBearer(),
		Parameters: openapi3.Parameters{
			queryParam("days", "Window size in days, default 7, max 90"),
		},
		Responses: managementResponses("200", "Aggregates",
			openapi3.NewSchemaRef("#/components/schemas/Analytics", nil)),
	}
	doc.Paths.Set("/api/v1/dashboard/analytics", &openapi3.PathItem{Get: analytics})

	requests := &openapi3.Operation{
		Tags:        []string{"dashboard"},
		Summary:     "Most recent gateway invocations (admin only)",
		OperationID: "dashboardRequests",
		Security:    securityBearer(),
		Parameters: openapi3.Parameters{
			queryParam("limit", "Number of entries, default 20, max 200"),
		},
		Responses: managementResponses("200", "Entries, newest first", objectSchema(nil)),
	}
	doc.Paths.Set("/api/v1/dashboard/requests", &openapi3.PathItem{Get: requests})
}

func addHealthPath(doc *openapi3.T) {
	op := &openapi3.Operation{
		Tags:        []string{"health"},
		Summary:     "Liveness probe",
		OperationID: "healthz",
		Responses: managementResponses("200", "Process is running", objectSchema(openapi3.Schemas{
			"status": strSchema(""),
		})),
	}
	doc.Paths.Set("/healthz", &openapi3.PathItem{Get: op})
}

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

func objectSchema(props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
		},
	}
}

func strSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: description},
	}
}

func intSchema(format, description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: format, Description: description},
	}
}

func numberSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double", Description: description},
	}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}},
	}
}

func successSchema() *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"success": boolSchema(),
	})
}

func listSchema(itemRef string) *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"resource": &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: openapi3.NewSchemaRef(itemRef, nil),
			},
		},
		"meta": objectSchema(openapi3.Schemas{
			"count": intSchema("int64", ""),
		}),
	})
}

func jsonBody(ref string, required bool) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: required,
			Content:  openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef(ref, nil)),
		},
	}
}

func inlineBody(schema *openapi3.SchemaRef, required bool) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: required,
			Content:  openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func pathParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "path",
			Required:    true,
			Description: description,
			Schema:      strSchema(""),
		},
	}
}

func queryParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "query",
			Description: description,
			Schema:      intSchema("int32", ""),
		},
	}
}

func securityBearer() *openapi3.SecurityRequirements {
	reqs := openapi3.NewSecurityRequirements()
	reqs.With(openapi3.SecurityRequirement{"bearerAuth": {}})
	return reqs
}

func securityAPIKeyOrBearer() *openapi3.SecurityRequirements {
	reqs := openapi3.NewSecurityRequirements()
	reqs.With(openapi3.SecurityRequirement{"apiKey": {}})
	reqs.With(openapi3.SecurityRequirement{"bearerAuth": {}})
	return reqs
}

// managementResponses builds the response set for a management API
// operation: the success shape plus the standard error envelope.
func managementResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"404": "Not found",
		"500": "Internal server error",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// gatewayResponses builds the response set for the protocol endpoint, which
// uses the flat error shape.
func gatewayResponses(statusCode, description string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(objectSchema(nil)),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/GatewayError", nil)
	for code, desc := range map[string]string{
		"400": "Validation failure or missing calendar credentials (body carries setupUrl)",
		"401": "No identity evidence",
		"403": "API key present but invalid or revoked",
		"500": "Upstream or internal failure",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
