package clarify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"terrachat/pkg/models"
)

func TestCaptureAndClear(t *testing.T) {
	g := NewGate()
	require.False(t, g.Open())

	qs := []models.ClarificationQuestion{
		{ID: "q1", Question: "Which region?", Type: "select", Options: []string{"eu-west-1", "us-east-1"}},
		{ID: "q2", Question: "Multi-AZ?"},
	}
	g.Capture("T", "need deployment details", qs)

	st := g.Current()
	require.True(t, st.Open)
	require.Equal(t, "T", st.ThreadID)
	require.Len(t, st.Questions, 2)

	g.Clear()
	require.False(t, g.Open())
	require.Empty(t, g.Current().Questions)
}

func TestCurrentReturnsCopy(t *testing.T) {
	g := NewGate()
	g.Capture("T", "", []models.ClarificationQuestion{{ID: "q1", Question: "a"}})
	st := g.Current()
	st.Questions[0].Question = "mutated"
	require.Equal(t, "a", g.Current().Questions[0].Question)
}
