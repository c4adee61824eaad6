package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/query"
	"github.com/devicelab-dev/device-agent/pkg/wait"
)

// WaitOptions tune one wait. Zero fields take the session defaults, so a
// wait cannot ask for a zero timeout; a negative Timeout or Interval fails
// with core.ErrInvalidArgument before anything is polled.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	Message  string
}

func (s *Session) waitSpec(o WaitOptions, message string) wait.Spec {
	spec := wait.Spec{
		Timeout:  s.opts.WaitTimeout,
		Interval: s.opts.WaitInterval,
		Message:  message,
	}
	if o.Timeout != 0 {
		spec.Timeout = o.Timeout
	}
	if o.Interval != 0 {
		spec.Interval = o.Interval
	}
	if o.Message != "" {
		spec.Message = o.Message
	}
	return spec
}

// WaitFor polls pred under the session's wait defaults.
func (s *Session) WaitFor(ctx context.Context, o WaitOptions, pred func(ctx context.Context) (bool, error)) error {
	return wait.Until(ctx, s.waitSpec(o, "timed out waiting for condition"), pred)
}

// WaitForView waits until q matches a visible element and returns the matches.
func (s *Session) WaitForView(ctx context.Context, q query.Query, o WaitOptions) ([]core.Element, error) {
	return wait.For(ctx, s.waitSpec(o, fmt.Sprintf("timed out waiting for view %s", q)),
		func(ctx context.Context) ([]core.Element, bool, error) {
			elements, err := s.Query(ctx, q)
			return elements, len(elements) > 0, err
		})
}

// WaitForNoView waits until q matches nothing.
func (s *Session) WaitForNoView(ctx context.Context, q query.Query, o WaitOptions) error {
	return wait.Until(ctx, s.waitSpec(o, fmt.Sprintf("timed out waiting for view %s to disappear", q)),
		func(ctx context.Context) (bool, error) {
			elements, err := s.Query(ctx, q)
			return len(elements) == 0, err
		})
}

// WaitForKeyboard waits for a keyboard to appear.
func (s *Session) WaitForKeyboard(ctx context.Context, o WaitOptions) error {
	return wait.Until(ctx, s.waitSpec(o, "timed out waiting for the keyboard to appear"), s.KeyboardVisible)
}

// WaitForNoKeyboard waits for the keyboard to go away.
func (s *Session) WaitForNoKeyboard(ctx context.Context, o WaitOptions) error {
	return wait.Until(ctx, s.waitSpec(o, "timed out waiting for the keyboard to disappear"),
		func(ctx context.Context) (bool, error) {
			visible, err := s.KeyboardVisible(ctx)
			return !visible, err
		})
}

// AlertVisible reports whether an alert is on screen.
func (s *Session) AlertVisible(ctx context.Context) (bool, error) {
	elements, err := s.Query(ctx, query.ByType(TypeAlert))
	if err != nil {
		return false, err
	}
	return len(elements) > 0, nil
}

// WaitForAlert waits for an alert to appear.
func (s *Session) WaitForAlert(ctx context.Context, o WaitOptions) error {
	return wait.Until(ctx, s.waitSpec(o, "timed out waiting for an alert to appear"), s.AlertVisible)
}

// WaitForNoAlert waits for alerts to be dismissed.
func (s *Session) WaitForNoAlert(ctx context.Context, o WaitOptions) error {
	return wait.Until(ctx, s.waitSpec(o, "timed out waiting for the alert to disappear"),
		func(ctx context.Context) (bool, error) {
			visible, err := s.AlertVisible(ctx)
			return !visible, err
		})
}

// WaitForTextInView waits until an element matching q shows text in its
// value or label. An empty text waits for an element with neither a value
// nor a label.
func (s *Session) WaitForTextInView(ctx context.Context, text string, q query.Query, o WaitOptions) (core.Element, error) {
	msg := fmt.Sprintf("timed out waiting for text %q in view %s", text, q)
	if text == "" {
		msg = fmt.Sprintf("timed out waiting for view %s without text", q)
	}
	var seen []core.Element
	el, err := wait.For(ctx, s.waitSpec(o, msg), func(ctx context.Context) (core.Element, bool, error) {
		elements, err := s.Query(ctx, q)
		if err != nil {
			return core.Element{}, false, err
		}
		seen = elements
		for _, el := range elements {
			if HasText(el, text) {
				return el, true, nil
			}
		}
		return core.Element{}, false, nil
	})
	if errors.Is(err, core.ErrWaitTimeout) && len(seen) > 0 {
		return el, fmt.Errorf("%w; last match was %s", err, seen[0].Describe())
	}
	return el, err
}

// HasText reports whether el shows text. For empty text both the value
// and label must be absent.
func HasText(el core.Element, text string) bool {
	if text == "" {
		return !el.Has("value") && !el.Has("label")
	}
	return el.Value == text || el.Label == text
}
