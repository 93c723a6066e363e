package cucumber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScenario() *TestScenario {
	return &TestScenario{
		Suite:     NewTestSuite(),
		Session:   &TestSession{},
		Variables: map[string]interface{}{},
	}
}

func TestExpandResolvesVariablesAndResponse(t *testing.T) {
	s := newScenario()
	s.Variables["threadId"] = "t1"
	s.Session.SetRespBytes([]byte(`{"conversation":{"threadId":"t1","messages":[{"role":"user"}]}}`))

	out, err := s.Expand(`/conversations/${threadId}`)
	require.NoError(t, err)
	assert.Equal(t, "/conversations/t1", out)

	out, err = s.Expand(`${response.conversation.messages[0].role}`)
	require.NoError(t, err)
	assert.Equal(t, "user", out)

	_, err = s.Expand(`${missing}`)
	require.Error(t, err)
}

func TestJSONMustContain(t *testing.T) {
	s := newScenario()
	actual := `{"conversations":[{"threadId":"t1","title":"x","extra":true}]}`

	require.NoError(t, s.JSONMustContain(actual, `{"conversations":[{"threadId":"t1"}]}`))
	require.Error(t, s.JSONMustContain(actual, `{"conversations":[]}`))
	require.Error(t, s.JSONMustContain(actual, `{"conversations":[{"threadId":"t2"}]}`))
}

func TestJSONMustMatch(t *testing.T) {
	s := newScenario()
	s.Variables["id"] = "t1"
	require.NoError(t, s.JSONMustMatch(`{"a":"t1","b":[1,2]}`, `{"b":[1,2],"a":"${id}"}`))

	err := s.JSONMustMatch(`{"a":1}`, `{"a":2}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diff")
}
