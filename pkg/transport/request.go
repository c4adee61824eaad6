// Package transport talks HTTP/JSON to the device agent.
package transport

import (
	"net/http"
	"strings"
)

// DefaultVersion prefixes every agent route.
const DefaultVersion = "1.0"

// Agent routes.
const (
	RouteHealth    = "health"
	RouteVersion   = "version"
	RouteSession   = "session"
	RouteShutdown  = "shutdown"
	RouteQuery     = "query"
	RouteGesture   = "gesture"
	RouteTree      = "tree"
	RoutePID       = "pid"
	RouteTerminate = "terminate"
	RouteHome      = "home"
)

// Request is one logical call to the agent.
// Parameters must marshal to a JSON object; GET requests never send a body.
type Request struct {
	Method     string
	Route      string
	Version    string
	Parameters interface{}
}

// Get builds a GET request for route.
func Get(route string) Request {
	return Request{Method: http.MethodGet, Route: route}
}

// Post builds a POST request for route with a JSON body.
func Post(route string, params interface{}) Request {
	return Request{Method: http.MethodPost, Route: route, Parameters: params}
}

// Delete builds a DELETE request for route.
func Delete(route string) Request {
	return Request{Method: http.MethodDelete, Route: route}
}

// Path returns the versioned route, e.g. "1.0/query".
func (r Request) Path() string {
	version := r.Version
	if version == "" {
		version = DefaultVersion
	}
	return version + "/" + strings.TrimPrefix(r.Route, "/")
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r Request) hasBody() bool {
	return r.Parameters != nil && r.method() != http.MethodGet
}
