// Package api provides the fleet control-plane REST API.
//
// All endpoints under /api/v1 require a bearer token obtained via
// /api/v1/auth/login, except the register and login routes themselves.
package api
