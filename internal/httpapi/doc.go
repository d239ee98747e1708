// Package httpapi is the JSON transport of authcore-server. It maps requests
// onto Engine calls and Engine failures onto HTTP status codes.
package httpapi
