package route

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// MalformedRouteError reports a route definition the catalog refuses to
// load: a missing id or fewer than two waypoints.
type MalformedRouteError struct {
	RouteID string
	Reason  string
}

func (e *MalformedRouteError) Error() string {
	if e.RouteID == "" {
		return fmt.Sprintf("malformed route data: %s", e.Reason)
	}
	return fmt.Sprintf("malformed route data: route %q: %s", e.RouteID, e.Reason)
}

// Catalog holds the immutable route set and the company list. Loaded
// once at startup; no mutation operations exist.
type Catalog struct {
	routes    map[string]Route
	companies []string
}

type routeDoc struct {
	Name  string        `json:"name"`
	Path  [][]float64   `json:"path"`
	Stops []string      `json:"stops"`
	Color string        `json:"color"`
	Zones []TrafficZone `json:"zones"`
}

type catalogDoc struct {
	Companies []string            `json:"companies"`
	Routes    map[string]routeDoc `json:"routes"`
}

// Load reads the route configuration document from r.
func Load(r io.Reader) (*Catalog, error) {
	var doc catalogDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode route config: %w", err)
	}
	routes := make(map[string]Route, len(doc.Routes))
	for id, rd := range doc.Routes {
		if id == "" {
			return nil, &MalformedRouteError{Reason: "empty route id"}
		}
		if len(rd.Path) < 2 {
			return nil, &MalformedRouteError{RouteID: id, Reason: "fewer than 2 waypoints"}
		}
		path := make([]LatLng, 0, len(rd.Path))
		for i, pt := range rd.Path {
			if len(pt) < 2 {
				return nil, &MalformedRouteError{RouteID: id, Reason: fmt.Sprintf("waypoint %d has fewer than 2 coordinates", i)}
			}
			path = append(path, LatLng{Lat: pt[0], Lng: pt[1]})
		}
		routes[id] = Route{
			ID:    id,
			Name:  rd.Name,
			Path:  path,
			Stops: rd.Stops,
			Color: rd.Color,
			Zones: rd.Zones,
		}
	}
	return &Catalog{routes: routes, companies: doc.Companies}, nil
}

// LoadFile reads the route configuration from a file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open route config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Route returns the route with the given id.
func (c *Catalog) Route(id string) (Route, bool) {
	r, ok := c.routes[id]
	return r, ok
}

// Routes returns all routes sorted by id.
func (c *Catalog) Routes() []Route {
	out := make([]Route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Companies returns the configured company names.
func (c *Catalog) Companies() []string {
	out := make([]string, len(c.companies))
	copy(out, c.companies)
	return out
}

// Len returns the number of routes in the catalog.
func (c *Catalog) Len() int { return len(c.routes) }
