package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Collections Gateway",
        "description": "Form save pipeline for DINA collection records",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "tags": [
        {"name": "Authentication", "description": "Identity carried by the access token"},
        {"name": "Persons", "description": "Person form with organizations and identifiers"},
        {"name": "MaterialSamples", "description": "Material sample reads and bulk saves"},
        {"name": "Sessions", "description": "Material sample edit sessions"},
        {"name": "Preferences", "description": "Per-user form defaults"},
        {"name": "Metrics", "description": "Operational metrics"}
    ],
    "paths": {
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/persons": {
            "post": {
                "tags": ["Persons"],
                "summary": "Create a person",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FormValues"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Field errors", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/persons/{id}": {
            "get": {
                "tags": ["Persons"],
                "summary": "Load a person for editing",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Persons"],
                "summary": "Save the changed fields of a person",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FormValues"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/material-samples/{id}": {
            "get": {
                "tags": ["MaterialSamples"],
                "summary": "Load a material sample with joined attachments, persons and children",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/material-samples/bulk": {
            "post": {
                "tags": ["MaterialSamples"],
                "summary": "Queue a batch of material sample submissions",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkSaveRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bulk-jobs/{id}": {
            "get": {
                "tags": ["MaterialSamples"],
                "summary": "Bulk save job progress",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Open an edit session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/OpenSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Edit session state",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Sessions"],
                "summary": "Discard an edit session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/sessions/{id}/sections/{section}": {
            "put": {
                "tags": ["Sessions"],
                "summary": "Enable or disable a form section",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "section", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetSectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Section state conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}/sections/{section}/confirm": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Confirm a pending section disable",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "section", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}/sections/{section}/cancel": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Cancel a pending section disable",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "section", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}/preview": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Compute the write plan of a submission without saving",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}/submit": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Save the material sample with its collecting and acquisition events",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate name or submit in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Field errors", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/preferences": {
            "get": {
                "tags": ["Preferences"],
                "summary": "Current user preferences",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Preferences"],
                "summary": "Update user preferences",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdatePreferenceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Aggregated request, upstream and submission metrics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "FormValues": {
            "type": "object",
            "additionalProperties": true
        },
        "BulkSaveRequest": {
            "type": "object",
            "required": ["samples"],
            "properties": {
                "samples": {"type": "array", "items": {"$ref": "#/definitions/FormValues"}},
                "enabledSections": {"type": "array", "items": {"type": "string"}}
            }
        },
        "OpenSessionRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "group": {"type": "string"},
                "bulkMode": {"type": "boolean"},
                "templateFields": {"type": "array", "items": {"type": "string"}}
            }
        },
        "SetSectionRequest": {
            "type": "object",
            "required": ["enabled"],
            "properties": {
                "enabled": {"type": "boolean"}
            }
        },
        "SubmitSessionRequest": {
            "type": "object",
            "required": ["values"],
            "properties": {
                "values": {"$ref": "#/definitions/FormValues"},
                "collectingEvent": {"$ref": "#/definitions/FormValues"},
                "acquisitionEvent": {"$ref": "#/definitions/FormValues"},
                "allowDuplicateName": {"type": "string", "description": "Name confirmed as an intended duplicate"},
                "createNext": {"type": "boolean"}
            }
        },
        "UpdatePreferenceRequest": {
            "type": "object",
            "properties": {
                "lastUsedCollectionId": {"type": "string", "format": "uuid"},
                "defaultGroup": {"type": "string"},
                "savedSearches": {"type": "object"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "fields": {"type": "object", "additionalProperties": {"type": "string"}},
                "subForms": {"type": "object"},
                "recoverable": {"type": "boolean"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
