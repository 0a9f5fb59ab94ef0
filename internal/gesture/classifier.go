// Package gesture turns swipe gestures on an item card into item assignments.
//
// A swipe is reduced to a vector and classified into an Intent:
//
//	        up: custom split
//	left: self  ·  right: pick a member
//	       down: split evenly
//
// Two intents need a second step from the user (choosing a member, entering
// custom amounts) before they become an assignment; see Apply.
package gesture

import "math"

// DefaultThreshold is the minimum swipe distance that counts as a gesture.
const DefaultThreshold = 100.0

// projectionFactor scales release velocity into extra distance, so a quick
// flick travels further than its raw offset.
const projectionFactor = 0.1

// Intent is the outcome of classifying a gesture.
type Intent string

const (
	None               Intent = "none"
	AssignSelf         Intent = "assign_self"
	RequestMemberPick  Intent = "request_member_pick"
	RequestCustomSplit Intent = "request_custom_split"
	AssignSplitEven    Intent = "assign_split_even"
)

// Terminal reports whether the intent maps to an assignment without a
// secondary selection step.
func (i Intent) Terminal() bool {
	return i == AssignSelf || i == AssignSplitEven
}

// Vector is a 2D displacement or velocity in screen units.
// Positive X is right, positive Y is down.
type Vector struct {
	X float64
	Y float64
}

// Project returns where a released gesture would come to rest.
func Project(offset, velocity Vector) Vector {
	return Vector{
		X: offset.X + velocity.X*projectionFactor,
		Y: offset.Y + velocity.Y*projectionFactor,
	}
}

// ClassifyGesture maps a gesture vector to an Intent.
//
// The dominant axis decides the direction; when |dx| == |dy| the horizontal
// axis wins. A gesture must travel strictly past the threshold on its
// dominant axis, otherwise the result is None.
func ClassifyGesture(dx, dy, threshold float64) Intent {
	if math.IsNaN(dx) || math.IsNaN(dy) {
		return None
	}
	if math.Abs(dx) >= math.Abs(dy) {
		switch {
		case dx < -threshold:
			return AssignSelf
		case dx > threshold:
			return RequestMemberPick
		}
		return None
	}
	switch {
	case dy < -threshold:
		return RequestCustomSplit
	case dy > threshold:
		return AssignSplitEven
	}
	return None
}

// Classifier holds a configured threshold.
type Classifier struct {
	threshold float64
}

// NewClassifier creates a Classifier. A non-positive threshold falls back to
// DefaultThreshold.
func NewClassifier(threshold float64) *Classifier {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Threshold returns the configured threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify classifies a released gesture, projecting its velocity first.
func (c *Classifier) Classify(offset, velocity Vector) Intent {
	v := Project(offset, velocity)
	return ClassifyGesture(v.X, v.Y, c.threshold)
}
