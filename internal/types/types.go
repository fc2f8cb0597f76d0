// Package types holds the shared data model of the agent operating system:
// the closed action alphabet, brain decisions and history, perception
// snapshots, DOM nodes, and display geometry.
package types

import (
	"fmt"
	"time"
)

// Kind identifies the gateway action family an Action belongs to.
// The gateway dispatches on Kind; the Supervisor classifies risk by Kind.
type Kind string

const (
	KindBrowse   Kind = "browse"
	KindTypeWeb  Kind = "type_web"
	KindClickWeb Kind = "click_web"
	KindTypeOS   Kind = "type_text"
	KindClickOS  Kind = "click"
	KindFinish   Kind = "finish"
	KindFail     Kind = "fail"
)

// Executable reports whether the kind names a side-effectful action the
// gateway can dispatch. Finish and Fail are brain-terminal markers.
func (k Kind) Executable() bool {
	switch k {
	case KindBrowse, KindTypeWeb, KindClickWeb, KindTypeOS, KindClickOS:
		return true
	}
	return false
}

// Action is the closed set of things the system can do to the outside world,
// plus the two terminal markers the brain uses to end a mission. Every
// variant carries exactly the fields it needs.
type Action interface {
	Kind() Kind
	// Validate rejects malformed variants before they reach the gateway.
	Validate() error
	isAction()
}

// Browse navigates the controlled browser to a URL.
type Browse struct {
	URL string
}

// TypeWeb types text into the element matching a CSS selector.
type TypeWeb struct {
	Selector string
	Text     string
}

// ClickWeb clicks the element matching a CSS selector. Force bypasses the
// driver's actionability checks (stubborn-click hosts).
type ClickWeb struct {
	Selector string
	Force    bool
}

// TypeOS types text through the OS input driver.
type TypeOS struct {
	Text string
}

// ClickOS clicks at logical screen coordinates through the OS input driver.
type ClickOS struct {
	X int
	Y int
}

// Finish ends the mission as a success.
type Finish struct {
	Reason string
}

// Fail ends the mission as a failure.
type Fail struct {
	Reason string
}

func (Browse) Kind() Kind   { return KindBrowse }
func (TypeWeb) Kind() Kind  { return KindTypeWeb }
func (ClickWeb) Kind() Kind { return KindClickWeb }
func (TypeOS) Kind() Kind   { return KindTypeOS }
func (ClickOS) Kind() Kind  { return KindClickOS }
func (Finish) Kind() Kind   { return KindFinish }
func (Fail) Kind() Kind     { return KindFail }

func (Browse) isAction()   {}
func (TypeWeb) isAction()  {}
func (ClickWeb) isAction() {}
func (TypeOS) isAction()   {}
func (ClickOS) isAction()  {}
func (Finish) isAction()   {}
func (Fail) isAction()     {}

func (a Browse) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("browse: empty url")
	}
	return nil
}

func (a TypeWeb) Validate() error {
	if a.Selector == "" {
		return fmt.Errorf("type_web: empty selector")
	}
	return nil
}

func (a ClickWeb) Validate() error {
	if a.Selector == "" {
		return fmt.Errorf("click_web: empty selector")
	}
	return nil
}

func (a TypeOS) Validate() error {
	if a.Text == "" {
		return fmt.Errorf("type_text: empty text")
	}
	return nil
}

func (a ClickOS) Validate() error {
	if a.X < 0 || a.Y < 0 {
		return fmt.Errorf("click: negative coordinates (%d,%d)", a.X, a.Y)
	}
	return nil
}

func (Finish) Validate() error { return nil }
func (Fail) Validate() error   { return nil }

// Names in the brain's action alphabet, used in prompts and history.
const (
	NameBrowse  = "BROWSE"
	NameType    = "TYPE"
	NameClick   = "CLICK"
	NameTypeOS  = "TYPE_OS"
	NameClickOS = "CLICK_OS"
	NameFinish  = "FINISH"
	NameFail    = "FAIL"
)

// ActionRecord is the serializable copy of an Action stored in mission
// history and rendered verbatim into the next prompt. Records hold values,
// never references, so history outlives transient browser state.
type ActionRecord struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	X        int    `json:"x,omitempty"`
	Y        int    `json:"y,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Record converts an Action to its history representation using the brain's
// action alphabet.
func Record(a Action) ActionRecord {
	switch v := a.(type) {
	case Browse:
		return ActionRecord{Name: NameBrowse, URL: v.URL}
	case TypeWeb:
		return ActionRecord{Name: NameType, Selector: v.Selector, Text: v.Text}
	case ClickWeb:
		return ActionRecord{Name: NameClick, Selector: v.Selector}
	case TypeOS:
		return ActionRecord{Name: NameTypeOS, Text: v.Text}
	case ClickOS:
		return ActionRecord{Name: NameClickOS, X: v.X, Y: v.Y}
	case Finish:
		return ActionRecord{Name: NameFinish, Reason: v.Reason}
	case Fail:
		return ActionRecord{Name: NameFail, Reason: v.Reason}
	default:
		return ActionRecord{Name: "UNKNOWN"}
	}
}

// Outcome is the recorded result of one executed history entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
)

// HistoryEntry is one step of the brain's chain of thought.
type HistoryEntry struct {
	Reasoning string       `json:"reasoning"`
	Action    ActionRecord `json:"action"`
	Outcome   Outcome      `json:"outcome,omitempty"`
}

// Rect is an element bounding box in CSS pixels of the viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the rect in CSS pixels.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// DomNode is one filtered interactive element of the live page.
type DomNode struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Rect       Rect              `json:"rect"`
}

// Snapshot is one perception capture: the primary-monitor frame plus the
// filtered DOM of the live page at the same moment. Only the latest snapshot
// is retained anywhere in the system.
type Snapshot struct {
	// Frame is the JPEG-encoded primary-monitor frame in physical pixels.
	Frame       []byte
	Width       int
	Height      int
	DOM         []DomNode
	ContentHash string
	CapturedAt  time.Time
}

// DisplayContext describes the primary monitor. Captured once at process
// start and cached in memory under the display_context key.
type DisplayContext struct {
	// ScalingFactor converts CSS/logical pixels to physical pixels.
	// 1.0 when unknown.
	ScalingFactor float64 `json:"scaling_factor"`
	// Resolution is the primary monitor size in physical pixels.
	Resolution [2]int `json:"resolution"`
	// BBox is left, top, right, bottom of the primary monitor.
	BBox [4]int `json:"bbox"`
}

// LogicalResolution returns the monitor size in logical pixels.
func (d DisplayContext) LogicalResolution() (int, int) {
	s := d.ScalingFactor
	if s <= 0 {
		s = 1.0
	}
	w := int(float64(d.Resolution[0]) / s)
	h := int(float64(d.Resolution[1]) / s)
	return w, h
}
