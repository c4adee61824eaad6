package core

import (
	"fmt"
	"strings"
)

// Device describes the simulator or physical device the agent runs on.
// Devices are supplied by the caller and never modified by a session.
type Device struct {
	UDID      string `json:"udid"`
	Name      string `json:"name"`
	Simulator bool   `json:"simulator"`
	OSVersion string `json:"osVersion"` // e.g. "17.2"
}

// IsPhysical returns true for real hardware.
func (d Device) IsPhysical() bool {
	return !d.Simulator
}

// Kind returns "simulator" or "physical".
func (d Device) Kind() string {
	if d.Simulator {
		return "simulator"
	}
	return "physical"
}

// String returns a short description used in error messages.
func (d Device) String() string {
	name := d.Name
	if name == "" {
		name = d.UDID
	}
	if d.OSVersion != "" {
		return fmt.Sprintf("%s (%s, %s, iOS %s)", name, d.UDID, d.Kind(), d.OSVersion)
	}
	return fmt.Sprintf("%s (%s, %s)", name, d.UDID, d.Kind())
}

// App describes the application under test.
type App struct {
	BundleID   string `json:"bundleId"`
	Executable string `json:"executable,omitempty"`
	Path       string `json:"path,omitempty"` // .app on disk, if known
}

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect represents element position and size
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the centroid of the rect
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Element is one row of a query result.
// Attributes holds the raw row so callers can tell an absent key from an empty one.
type Element struct {
	ID          string `json:"id,omitempty"`
	Label       string `json:"label,omitempty"`
	Title       string `json:"title,omitempty"`
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Type        string `json:"type,omitempty"`
	TestID      string `json:"test_id,omitempty"`
	Rect        Rect   `json:"rect"`
	Hitable     bool   `json:"hitable"`
	Enabled     bool   `json:"enabled"`

	Attributes map[string]interface{} `json:"-"`
}

// Has reports whether the raw row carries a non-null value for key.
func (e Element) Has(key string) bool {
	if e.Attributes == nil {
		return false
	}
	v, ok := e.Attributes[key]
	return ok && v != nil
}

// Describe returns a short human-readable description.
func (e Element) Describe() string {
	var parts []string
	if e.Type != "" {
		parts = append(parts, e.Type)
	}
	if e.ID != "" {
		parts = append(parts, fmt.Sprintf("id=%q", e.ID))
	}
	if e.Label != "" {
		parts = append(parts, fmt.Sprintf("label=%q", e.Label))
	}
	if len(parts) == 0 {
		return "element"
	}
	return strings.Join(parts, " ")
}

// ElementFromMap builds an Element from a decoded JSON row.
func ElementFromMap(m map[string]interface{}) Element {
	e := Element{Attributes: m}
	e.ID = stringAttr(m, "id")
	e.Label = stringAttr(m, "label")
	e.Title = stringAttr(m, "title")
	e.Value = stringAttr(m, "value")
	e.Placeholder = stringAttr(m, "placeholder")
	e.Type = stringAttr(m, "type")
	e.TestID = stringAttr(m, "test_id")
	e.Hitable, _ = m["hitable"].(bool)
	e.Enabled, _ = m["enabled"].(bool)

	if rect, ok := m["rect"].(map[string]interface{}); ok {
		e.Rect = Rect{
			X:      floatAttr(rect, "x"),
			Y:      floatAttr(rect, "y"),
			Width:  floatAttr(rect, "width"),
			Height: floatAttr(rect, "height"),
		}
	}
	return e
}

func stringAttr(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func floatAttr(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
