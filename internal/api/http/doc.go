// Package http implements the REST surface of the service on gin.
//
// Every task failure is mapped to a status code in errors.go and answered
// with the same JSON error body.
package http
