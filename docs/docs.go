// Package docs registers the OpenAPI document served under /swagger. It is maintained by
// hand alongside the handler annotations; keep both in step when routes change.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/bookings": {
            "post": {
                "tags": ["bookings"],
                "summary": "Request a booking",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/booking.CreateBookingRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.APIResponse"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/bookings/{id}/approve": {
            "post": {
                "tags": ["bookings"],
                "summary": "Approve a paid booking",
                "parameters": [{"type": "integer", "description": "Booking ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/bookings/{id}/cancel": {
            "post": {
                "tags": ["bookings"],
                "summary": "Cancel a booking and open its refund",
                "parameters": [{"type": "integer", "description": "Booking ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/payments/confirm": {
            "post": {
                "tags": ["payments"],
                "summary": "Confirm a checkout with the gateway",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}, "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/sessions/{id}/attendance": {
            "post": {
                "tags": ["sessions"],
                "summary": "Mark a session ATTENDED or NO_SHOW",
                "parameters": [{"type": "integer", "description": "Session ID", "name": "id", "in": "path", "required": true}, {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/attendance.MarkRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/settlements/run": {
            "post": {
                "tags": ["settlements"],
                "summary": "Run the monthly settlement batch",
                "parameters": [{"type": "string", "description": "YYYY-MM, defaults to the previous month", "name": "month", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/users/me/availability": {
            "post": {
                "tags": ["users"],
                "summary": "Add a weekly availability window",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/user.CreateSlotRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.APIResponse"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/users/{id}/availability": {
            "get": {
                "tags": ["users"],
                "summary": "List a tutor's availability",
                "parameters": [{"type": "integer", "description": "Tutor ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/reviews": {
            "post": {
                "tags": ["reviews"],
                "summary": "Review a booking",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/review.CreateReviewRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/response.APIResponse"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.APIResponse"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        },
        "/reviews/ratings/{tutorID}": {
            "get": {
                "tags": ["reviews"],
                "summary": "Get a tutor's rating and badge tier",
                "parameters": [{"type": "integer", "description": "Tutor ID", "name": "tutorID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.APIResponse"}}}
            }
        }
    },
    "definitions": {
        "attendance.MarkRequest": {
            "type": "object",
            "properties": {"status": {"type": "string", "enum": ["ATTENDED", "NO_SHOW"]}}
        },
        "booking.CreateBookingRequest": {
            "type": "object",
            "properties": {
                "tutor_id": {"type": "integer"},
                "subject": {"type": "string"},
                "notes": {"type": "string"},
                "slots": {"type": "array", "items": {"type": "object", "properties": {"starts_at": {"type": "string"}, "ends_at": {"type": "string"}}}}
            }
        },
        "user.CreateSlotRequest": {
            "type": "object",
            "properties": {
                "day_of_week": {"type": "integer", "description": "0 is Monday, 6 is Sunday"},
                "start_time": {"type": "string", "example": "14:00"},
                "end_time": {"type": "string", "example": "18:00"}
            }
        },
        "review.CreateReviewRequest": {
            "type": "object",
            "properties": {
                "booking_id": {"type": "integer"},
                "overall_rating": {"type": "integer"},
                "content": {"type": "string"},
                "image_urls": {"type": "array", "items": {"type": "string"}},
                "is_anonymous": {"type": "boolean"}
            }
        },
        "response.APIError": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "response.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {},
                "error": {"$ref": "#/definitions/response.APIError"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "TutorFlow API",
	Description:      "Booking, payment, attendance, settlement and review core of a tutoring marketplace.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
