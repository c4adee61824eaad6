package session

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/query"
	"github.com/devicelab-dev/device-agent/pkg/retry"
	"github.com/devicelab-dev/device-agent/pkg/transport"
)

// Gesture names understood by the agent.
const (
	GestureTouch        = "touch"
	GestureDoubleTap    = "double_tap"
	GestureTwoFingerTap = "two_finger_tap"
	GestureDrag         = "drag"
	GestureEnterText    = "enter_text"
	GestureClearText    = "clear_text"
)

// Element types used by the built-in waits.
const (
	TypeKeyboard = "Keyboard"
	TypeAlert    = "Alert"
)

// gestureRequest is the body of POST gesture.
type gestureRequest struct {
	Gesture    string                 `json:"gesture"`
	Specifiers gestureSpecifiers      `json:"specifiers"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

type gestureSpecifiers struct {
	Coordinate  *core.Point  `json:"coordinate,omitempty"`
	Coordinates []core.Point `json:"coordinates,omitempty"`
}

// Query returns the elements matching q.
func (s *Session) Query(ctx context.Context, q query.Query) ([]core.Element, error) {
	return s.queries.Query(ctx, q)
}

// QueryForCoordinate returns the centre of the first element matching q.
func (s *Session) QueryForCoordinate(ctx context.Context, q query.Query) (core.Point, error) {
	return s.queries.QueryForCoordinate(ctx, q)
}

// Tree returns the raw element hierarchy.
func (s *Session) Tree(ctx context.Context) (map[string]interface{}, error) {
	return s.queries.Tree(ctx)
}

func (s *Session) gesture(ctx context.Context, req gestureRequest, policy retry.Policy) (map[string]interface{}, error) {
	body, err := s.client.Request(ctx, transport.Post(transport.RouteGesture, req), policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Gesture, err)
	}
	return body, nil
}

func (s *Session) gestureAt(ctx context.Context, name string, p core.Point, options map[string]interface{}) (map[string]interface{}, error) {
	return s.gesture(ctx, gestureRequest{
		Gesture:    name,
		Specifiers: gestureSpecifiers{Coordinate: &p},
		Options:    options,
	}, retry.Policy{})
}

func (s *Session) gestureOn(ctx context.Context, name string, q query.Query, options map[string]interface{}) (map[string]interface{}, error) {
	p, err := s.QueryForCoordinate(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.gestureAt(ctx, name, p, options)
}

// Touch taps the first element matching q.
func (s *Session) Touch(ctx context.Context, q query.Query) (map[string]interface{}, error) {
	return s.gestureOn(ctx, GestureTouch, q, nil)
}

// TouchCoordinate taps a screen point.
func (s *Session) TouchCoordinate(ctx context.Context, p core.Point) (map[string]interface{}, error) {
	return s.gestureAt(ctx, GestureTouch, p, nil)
}

// DoubleTap double taps the first element matching q.
func (s *Session) DoubleTap(ctx context.Context, q query.Query) (map[string]interface{}, error) {
	return s.gestureOn(ctx, GestureDoubleTap, q, nil)
}

// TwoFingerTap taps the first element matching q with two fingers.
func (s *Session) TwoFingerTap(ctx context.Context, q query.Query) (map[string]interface{}, error) {
	return s.gestureOn(ctx, GestureTwoFingerTap, q, nil)
}

// LongPress holds a touch on the first element matching q.
func (s *Session) LongPress(ctx context.Context, q query.Query, duration time.Duration) (map[string]interface{}, error) {
	if duration <= 0 {
		return nil, core.ErrInvalidArgument.WithMessagef("long press duration must be > 0, got %v", duration)
	}
	return s.gestureOn(ctx, GestureTouch, q, map[string]interface{}{"duration": duration.Seconds()})
}

// Pan drags from the first match of from to the first match of to.
func (s *Session) Pan(ctx context.Context, from, to query.Query, duration time.Duration) (map[string]interface{}, error) {
	start, err := s.QueryForCoordinate(ctx, from)
	if err != nil {
		return nil, err
	}
	end, err := s.QueryForCoordinate(ctx, to)
	if err != nil {
		return nil, err
	}
	return s.PanCoordinates(ctx, start, end, duration)
}

// PanCoordinates drags between two screen points.
func (s *Session) PanCoordinates(ctx context.Context, from, to core.Point, duration time.Duration) (map[string]interface{}, error) {
	if duration <= 0 {
		duration = 500 * time.Millisecond
	}
	return s.gesture(ctx, gestureRequest{
		Gesture:    GestureDrag,
		Specifiers: gestureSpecifiers{Coordinates: []core.Point{from, to}},
		Options:    map[string]interface{}{"duration": duration.Seconds()},
	}, retry.Policy{})
}

// KeyboardVisible reports whether a keyboard is on screen.
func (s *Session) KeyboardVisible(ctx context.Context) (bool, error) {
	elements, err := s.Query(ctx, query.ByType(TypeKeyboard))
	if err != nil {
		return false, err
	}
	return len(elements) > 0, nil
}

// EnterText types into the focused field. It fails fast without a keyboard.
func (s *Session) EnterText(ctx context.Context, text string) (map[string]interface{}, error) {
	visible, err := s.KeyboardVisible(ctx)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, core.ErrNoMatch.WithMessage("cannot enter text: no keyboard is visible")
	}
	return s.gesture(ctx, gestureRequest{
		Gesture: GestureEnterText,
		Options: map[string]interface{}{"string": text},
	}, s.opts.TextPolicy)
}

// ClearText clears the focused field.
func (s *Session) ClearText(ctx context.Context) (map[string]interface{}, error) {
	return s.gesture(ctx, gestureRequest{Gesture: GestureClearText}, s.opts.TextPolicy)
}
