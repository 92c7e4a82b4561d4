// Package feedback attaches star ratings and comments to model messages.
// Rate may be called any number of times; Comment submits and freezes the
// record. Calls against a missing, user, error, or already submitted
// message leave the log unchanged.
package feedback

import (
	"AraChat/internal/session"
)

const (
	MinRating = 1
	MaxRating = 5
)

// ValidRating reports whether r is an accepted star value
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// Rateable reports whether a message can still take feedback
func Rateable(m session.Message) bool {
	if m.Role != session.RoleModel || m.IsError {
		return false
	}
	return m.Feedback == nil || !m.Feedback.Submitted
}

// Rate sets or overwrites the star rating without submitting
func Rate(log session.Log, messageID string, rating int) session.Log {
	if !ValidRating(rating) {
		return log
	}
	return log.Update(messageID, func(m session.Message) (session.Message, bool) {
		if !Rateable(m) {
			return m, false
		}
		fb := session.Feedback{Rating: rating}
		if m.Feedback != nil {
			fb.Comment = m.Feedback.Comment
		}
		m.Feedback = &fb
		return m, true
	})
}

// Comment sets the rating and comment and marks the feedback submitted.
// An empty text is recorded as an empty comment, not as a missing one.
func Comment(log session.Log, messageID string, rating int, text string) session.Log {
	if !ValidRating(rating) {
		return log
	}
	return log.Update(messageID, func(m session.Message) (session.Message, bool) {
		if !Rateable(m) {
			return m, false
		}
		c := text
		m.Feedback = &session.Feedback{Rating: rating, Comment: &c, Submitted: true}
		return m, true
	})
}
