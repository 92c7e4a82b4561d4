package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AraChat/internal/session"
)

func testLog() session.Log {
	return session.NewLog(session.Greeting("g", time.Unix(0, 0))).
		Append(session.Message{ID: "u1", Role: session.RoleUser, Text: "hi"}).
		Append(session.Message{ID: "m1", Role: session.RoleModel, Text: "hello"}).
		Append(session.Message{ID: "u2", Role: session.RoleUser, Text: "again"}).
		Append(session.Message{ID: "e1", Role: session.RoleModel, Text: "sorry", IsError: true})
}

func feedbackOf(t *testing.T, log session.Log, id string) *session.Feedback {
	t.Helper()
	m, ok := log.Find(id)
	require.True(t, ok)
	return m.Feedback
}

func TestRate(t *testing.T) {
	log := Rate(testLog(), "m1", 4)

	fb := feedbackOf(t, log, "m1")
	require.NotNil(t, fb)
	assert.Equal(t, 4, fb.Rating)
	assert.Nil(t, fb.Comment)
	assert.False(t, fb.Submitted)

	log = Rate(log, "m1", 2)
	assert.Equal(t, 2, feedbackOf(t, log, "m1").Rating)
}

func TestRate_IgnoredTargets(t *testing.T) {
	base := testLog()

	tests := []struct {
		name   string
		id     string
		rating int
	}{
		{"missing message", "nope", 3},
		{"user message", "u1", 3},
		{"error message", "e1", 3},
		{"rating too low", "m1", 0},
		{"rating too high", "m1", 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Rate(base, tc.id, tc.rating)
			assert.Equal(t, base.All(), got.All())
		})
	}
}

func TestComment(t *testing.T) {
	log := Comment(testLog(), "m1", 5, "great")

	fb := feedbackOf(t, log, "m1")
	require.NotNil(t, fb)
	assert.Equal(t, 5, fb.Rating)
	require.NotNil(t, fb.Comment)
	assert.Equal(t, "great", *fb.Comment)
	assert.True(t, fb.Submitted)
}

func TestComment_EmptyTextIsPresent(t *testing.T) {
	log := Comment(testLog(), "m1", 3, "")

	fb := feedbackOf(t, log, "m1")
	require.NotNil(t, fb.Comment)
	assert.Equal(t, "", *fb.Comment)
	assert.True(t, fb.Submitted)
}

func TestComment_IgnoredTargets(t *testing.T) {
	base := testLog()

	assert.Equal(t, base.All(), Comment(base, "u1", 3, "x").All())
	assert.Equal(t, base.All(), Comment(base, "e1", 3, "x").All())
	assert.Equal(t, base.All(), Comment(base, "missing", 3, "x").All())
	assert.Equal(t, base.All(), Comment(base, "m1", 0, "x").All())
}

func TestSubmittedFeedbackIsFrozen(t *testing.T) {
	submitted := Comment(Rate(testLog(), "m1", 4), "m1", 4, "thanks")
	want := feedbackOf(t, submitted, "m1")

	after := Rate(submitted, "m1", 1)
	after = Comment(after, "m1", 2, "changed my mind")
	after = Rate(after, "m1", 5)

	assert.Equal(t, want, feedbackOf(t, after, "m1"))
}

func TestRateThenCommentScenario(t *testing.T) {
	log := testLog()
	log = Rate(log, "m1", 4)
	log = Rate(log, "m1", 2)
	log = Comment(log, "m1", 2, "great")
	log = Rate(log, "m1", 5)

	fb := feedbackOf(t, log, "m1")
	assert.Equal(t, 2, fb.Rating)
	require.NotNil(t, fb.Comment)
	assert.Equal(t, "great", *fb.Comment)
	assert.True(t, fb.Submitted)
}

func TestReducersDoNotMutateInput(t *testing.T) {
	base := testLog()
	_ = Comment(Rate(base, "m1", 3), "m1", 3, "ok")

	assert.Nil(t, feedbackOf(t, base, "m1"))
}
