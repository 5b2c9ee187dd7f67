// Package docs is the swag registration for the lendledger HTTP API.
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
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "paths": {
        "/login": {
            "post": {"tags": ["auth"], "summary": "ログイン（JWT 発行）", "security": [],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/auth.LoginRequest"}}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}
        },
        "/register": {
            "post": {"tags": ["auth"], "summary": "一般ユーザー登録", "security": [],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/auth.LoginRequest"}}],
                "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}}
        },
        "/groups/{group_id}/loans": {
            "post": {"tags": ["loans"], "summary": "貸出登録",
                "parameters": [
                    {"type": "string", "name": "group_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ledger.CreateLoanRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ledger.LoanResponse"}}}}
        },
        "/groups/{group_id}/lenders/{player_id}/loans": {
            "get": {"tags": ["loans"], "summary": "貸し手の貸出中一覧",
                "parameters": [
                    {"type": "string", "name": "group_id", "in": "path", "required": true},
                    {"type": "string", "name": "player_id", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.ListResponse"}}}}
        },
        "/groups/{group_id}/borrowers/{player_id}/loans": {
            "get": {"tags": ["loans"], "summary": "借り手の借用中一覧",
                "parameters": [
                    {"type": "string", "name": "group_id", "in": "path", "required": true},
                    {"type": "string", "name": "player_id", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.ListResponse"}}}}
        },
        "/groups/{group_id}/loans/confirm-return": {
            "post": {"tags": ["loans"], "summary": "返却確認",
                "parameters": [
                    {"type": "string", "name": "group_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ledger.LoanKeyRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/groups/{group_id}/loans/extend": {
            "post": {"tags": ["loans"], "summary": "返却期限の延長",
                "parameters": [{"type": "string", "name": "group_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.LoanResponse"}}, "409": {"description": "Conflict"}}}
        },
        "/loans": {
            "get": {"tags": ["loans"], "summary": "貸出中の全件",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.ListResponse"}}}}
        },
        "/loans/overdue": {
            "get": {"tags": ["loans"], "summary": "期限切れの貸出",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.ListResponse"}}}}
        },
        "/loans/history": {
            "get": {"tags": ["loans"], "summary": "履歴",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.ListResponse"}}}},
            "delete": {"tags": ["loans"], "summary": "古い返却済み履歴の削除（admin）",
                "parameters": [{"type": "integer", "name": "before", "in": "query", "required": true}],
                "responses": {"200": {"description": "OK"}}}
        },
        "/loans/history/export": {
            "get": {"tags": ["loans"], "summary": "履歴 CSV",
                "parameters": [{"type": "string", "name": "encoding", "in": "query", "enum": ["utf8", "sjis"]}],
                "produces": ["text/csv"],
                "responses": {"200": {"description": "OK"}}}
        },
        "/loans/{loan_id}": {
            "get": {"tags": ["loans"], "summary": "貸出1件",
                "parameters": [{"type": "string", "name": "loan_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ledger.LoanResponse"}}, "404": {"description": "Not Found"}}}
        },
        "/loans/{loan_id}/default": {
            "post": {"tags": ["loans"], "summary": "貸し倒れとしてクローズ",
                "parameters": [{"type": "string", "name": "loan_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}
        },
        "/loans/{loan_id}/cancel": {
            "post": {"tags": ["loans"], "summary": "貸出の取り消し",
                "parameters": [{"type": "string", "name": "loan_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}
        }
    },
    "definitions": {
        "auth.LoginRequest": {
            "type": "object",
            "required": ["id", "password"],
            "properties": {"id": {"type": "string"}, "password": {"type": "string"}}
        },
        "ledger.LoanKeyRequest": {
            "type": "object",
            "required": ["lender_id", "borrower_id", "item_name"],
            "properties": {
                "lender_id": {"type": "string"},
                "borrower_id": {"type": "string"},
                "item_name": {"type": "string"},
                "party": {"type": "string", "enum": ["lender", "borrower"]}
            }
        },
        "ledger.CreateLoanRequest": {
            "type": "object",
            "required": ["borrower_id", "item_name", "quantity"],
            "properties": {
                "lender_id": {"type": "string"},
                "borrower_id": {"type": "string"},
                "item_id": {"type": "integer"},
                "item_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "collateral_value": {"type": "integer"},
                "collateral_item": {"type": "string"},
                "due_timestamp": {"type": "integer"},
                "due_in_days": {"type": "integer"}
            }
        },
        "ledger.LoanResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "group_id": {"type": "string"},
                "lender_id": {"type": "string"},
                "borrower_id": {"type": "string"},
                "item_id": {"type": "integer"},
                "item_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "collateral_value": {"type": "integer"},
                "collateral_item": {"type": "string"},
                "lend_timestamp": {"type": "integer"},
                "due_timestamp": {"type": "integer"},
                "return_timestamp": {"type": "integer"},
                "lender_confirmed_return": {"type": "boolean"},
                "borrower_confirmed_return": {"type": "boolean"},
                "state": {"type": "string"},
                "close_reason": {"type": "string"}
            }
        },
        "ledger.ListResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/ledger.LoanResponse"}},
                "total": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "lendledger API",
	Description:      "Two-party confirmed item loan ledger.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
