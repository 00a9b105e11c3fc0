package api

import (
	"net/http"
	"strings"
)

// Route identifies the operation a request is dispatched to.
type Route int

// Routes served by the API.
const (
	RouteNotFound Route = iota
	RouteStoreReference
	RouteAzureHook
	RouteAddOfficial
	RouteListOfficial
	RouteRemoveOfficial
	RouteBadge
)

var routeNames = map[Route]string{
	RouteNotFound:       "not_found",
	RouteStoreReference: "store_reference",
	RouteAzureHook:      "azure_hook",
	RouteAddOfficial:    "add_official",
	RouteListOfficial:   "list_official",
	RouteRemoveOfficial: "remove_official",
	RouteBadge:          "badge",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return "unknown"
}

// routeEntry binds a method and a slash-trimmed path to a Route.
type routeEntry struct {
	method string
	path   string
	route  Route
}

// routeTable lists every exact route. GET requests that match none of them
// are badge lookups.
var routeTable = []routeEntry{
	{method: http.MethodPost, path: "api/reference", route: RouteStoreReference},
	{method: http.MethodPost, path: "api/provider", route: RouteStoreReference},
	{method: http.MethodPost, path: "api/azurehook", route: RouteAzureHook},
	{method: http.MethodPost, path: "category", route: RouteAddOfficial},
	{method: http.MethodGet, path: "category", route: RouteListOfficial},
	{method: http.MethodDelete, path: "category", route: RouteRemoveOfficial},
}

// Match returns the route for method and path. Leading and trailing slashes
// of path are ignored. It has no side effects.
func Match(method, path string) Route {
	trimmed := strings.Trim(path, "/")
	for _, e := range routeTable {
		if e.method == method && e.path == trimmed {
			return e.route
		}
	}
	if method == http.MethodGet {
		return RouteBadge
	}
	return RouteNotFound
}

// BadgeKey returns the reference name a badge request asks for: the last
// segment of path once surrounding slashes are trimmed.
func BadgeKey(path string) string {
	trimmed := strings.Trim(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
