package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// parse 依次执行 ParseEnvelope 与 Decode，不做状态检查。
func parse(data []byte) (*Envelope, Request, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return env, nil, err
	}
	req, err := env.Decode()
	return env, req, err
}

type ProtocolSuite struct {
	suite.Suite
}

func (s *ProtocolSuite) TestEnvelopeErrors() {
	cases := []struct {
		name   string
		input  string
		kind   error
		echoID string
	}{
		{"invalid json", `{"action":`, merr.ErrMalformedMessage, ""},
		{"not an object", `[1,2,3]`, merr.ErrMalformedMessage, ""},
		{"string payload", `"create"`, merr.ErrMalformedMessage, ""},
		{"missing action", `{"id":"ABCDEF"}`, merr.ErrMalformedMessage, `"ABCDEF"`},
		{"action not a string", `{"action":5,"id":3}`, merr.ErrMalformedMessage, `3`},
		{"unknown action", `{"action":"dance","id":{"n":1}}`, merr.ErrUnknownAction, `{"n":1}`},
	}
	for _, c := range cases {
		s.Run(c.name, func() {
			env, err := ParseEnvelope([]byte(c.input))
			s.Require().NotNil(env)
			s.ErrorIs(err, c.kind)
			s.Equal(c.echoID, string(env.ID))
		})
	}
}

func (s *ProtocolSuite) TestRequiresBound() {
	s.False(ActionCreate.RequiresBound())
	s.False(ActionJoin.RequiresBound())
	for _, a := range []Action{ActionSend, ActionRequest, ActionResponse, ActionLeave} {
		s.True(a.RequiresBound(), a.String())
	}
	s.False(Action("dance").Known())
}

func (s *ProtocolSuite) TestDecodeCreateAndJoin() {
	_, req, err := parse([]byte(`{"action":"create","appname":"chess","password":"pw","username":"alice"}`))
	s.Require().NoError(err)
	s.Equal(&CreateRequest{AppName: "chess", Password: "pw", Username: "alice"}, req)

	env, req, err := parse([]byte(`{"action":"join","id":"2A0000","appname":"chess","password":"pw","username":"bob"}`))
	s.Require().NoError(err)
	s.Equal(`"2A0000"`, string(env.ID))
	s.Equal(&JoinRequest{ID: "2A0000", AppName: "chess", Password: "pw", Username: "bob"}, req)
}

func (s *ProtocolSuite) TestStateCheckBeforeFields() {
	// 缺少全部字段的 send 仍然可以先解析出动作，由调用方先做状态检查。
	env, err := ParseEnvelope([]byte(`{"action":"send"}`))
	s.Require().NoError(err)
	s.Equal(ActionSend, env.Action)
	s.True(env.Action.RequiresBound())

	_, err = env.Decode()
	s.ErrorIs(err, merr.ErrMalformedMessage)
	s.Contains(err.Error(), "field=user")
}

func (s *ProtocolSuite) TestDecodeSend() {
	_, req, err := parse([]byte(`{"action":"send","user":null,"message":{"move":"e4"}}`))
	s.Require().NoError(err)
	send := req.(*SendRequest)
	s.Nil(send.User)
	s.JSONEq(`{"move":"e4"}`, string(send.Message))

	_, req, err = parse([]byte(`{"action":"send","user":"bob","message":null}`))
	s.Require().NoError(err)
	send = req.(*SendRequest)
	s.Require().NotNil(send.User)
	s.Equal("bob", *send.User)
	s.Equal("null", string(send.Message))

	_, _, err = parse([]byte(`{"action":"send","message":1}`))
	s.ErrorIs(err, merr.ErrMalformedMessage)

	_, _, err = parse([]byte(`{"action":"send","user":"bob"}`))
	s.ErrorIs(err, merr.ErrMalformedMessage)

	_, _, err = parse([]byte(`{"action":"send","user":7,"message":1}`))
	s.ErrorIs(err, merr.ErrMalformedMessage)
}

func (s *ProtocolSuite) TestDecodeForward() {
	_, req, err := parse([]byte(`{"action":"request","user":"bob","message":"ping","id":42}`))
	s.Require().NoError(err)
	fwd := req.(*ForwardRequest)
	s.Equal(ActionRequest, fwd.Action())
	s.Equal("bob", fwd.User)
	s.Equal(`"ping"`, string(fwd.Message))
	s.Equal(`42`, string(fwd.ID))

	_, req, err = parse([]byte(`{"action":"response","user":"alice","message":"pong","id":42}`))
	s.Require().NoError(err)
	s.Equal(ActionResponse, req.Action())

	_, _, err = parse([]byte(`{"action":"request","user":null,"message":"ping","id":1}`))
	s.ErrorIs(err, merr.ErrInvalidUsername)
	s.Contains(err.Error(), "cannot broadcast a request")

	_, _, err = parse([]byte(`{"action":"response","user":"bob","message":"pong"}`))
	s.ErrorIs(err, merr.ErrMalformedMessage)
}

func (s *ProtocolSuite) TestMissingCreateField() {
	_, _, err := parse([]byte(`{"action":"create","appname":"chess","username":"alice"}`))
	s.ErrorIs(err, merr.ErrMalformedMessage)
	s.Contains(err.Error(), "field=password")

	_, _, err = parse([]byte(`{"action":"create","appname":1,"password":"pw","username":"alice"}`))
	s.ErrorIs(err, merr.ErrMalformedMessage)
}

func TestProtocol(t *testing.T) {
	suite.Run(t, new(ProtocolSuite))
}

func TestEvents(t *testing.T) {
	data, err := json.Marshal(NewMessage("alice", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"alice","message":null}`, string(data))

	data, err = json.Marshal(NewForward(ActionRequest, "alice", json.RawMessage(`{"q":1}`), json.RawMessage(`7`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"alice","request":{"q":1},"id":7}`, string(data))

	data, err = json.Marshal(NewForward(ActionResponse, "bob", json.RawMessage(`"a"`), json.RawMessage(`7`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"bob","response":"a","id":7}`, string(data))

	data, err = json.Marshal(NewErrorReply("UnknownAction: unknown action[action=x]", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"UnknownAction: unknown action[action=x]","id":null}`, string(data))

	data, err = json.Marshal(&Left{Left: "bob", Users: []string{"alice"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"left":"bob","users":["alice"]}`, string(data))
}

func TestUsernameLength(t *testing.T) {
	assert.Equal(t, 5, UsernameLength("alice"))
	assert.Equal(t, 2, UsernameLength("李雷"))
}
