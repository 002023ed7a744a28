package realtime

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTarget(t *testing.T) {
	input := []byte(`{"payload":{"room":"R9","visitor":{"token":"vt-1"}},"conversation":"conv-3"}`)

	tests := []struct {
		name string
		spec TargetSpec
		want Target
	}{
		{
			name: "user origin uses own stream",
			spec: TargetSpec{Origin: OriginUser, Room: Property{Value: "ignored"}},
			want: Target{Origin: OriginUser, RoomID: MyMessagesRoom},
		},
		{
			name: "empty origin means user",
			spec: TargetSpec{},
			want: Target{Origin: OriginUser, RoomID: MyMessagesRoom},
		},
		{
			name: "room from form payload",
			spec: TargetSpec{Origin: OriginRoom, Room: Property{Type: PropForm, Value: `{"i":"GENERAL","n":"general"}`}},
			want: Target{Origin: OriginRoom, RoomID: "GENERAL"},
		},
		{
			name: "room from input event",
			spec: TargetSpec{Origin: OriginRoom, Room: Property{Type: PropInput, Value: "payload.room"}},
			want: Target{Origin: OriginRoom, RoomID: "R9"},
		},
		{
			name: "msg prefix is optional",
			spec: TargetSpec{Origin: OriginRoom, Room: Property{Type: PropInput, Value: "msg.payload.room"}},
			want: Target{Origin: OriginRoom, RoomID: "R9"},
		},
		{
			name: "live from input event",
			spec: TargetSpec{
				Origin:       OriginLive,
				Room:         Property{Type: PropString, Value: "L1"},
				VisitorToken: Property{Type: PropInput, Value: "payload.visitor.token"},
				SessionID:    Property{Type: PropInput, Value: "conversation"},
			},
			want: Target{Origin: OriginLive, RoomID: "L1", VisitorToken: "vt-1", SessionID: "conv-3"},
		},
		{
			name: "live room may be resolved later",
			spec: TargetSpec{Origin: OriginLive, VisitorToken: Property{Value: "vt-1"}},
			want: Target{Origin: OriginLive, VisitorToken: "vt-1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTarget(tt.spec, input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTargetErrors(t *testing.T) {
	tests := []struct {
		name  string
		spec  TargetSpec
		input string
	}{
		{"unknown origin", TargetSpec{Origin: "bot"}, `{}`},
		{"room missing from input", TargetSpec{Origin: OriginRoom, Room: Property{Type: PropInput, Value: "payload.nope"}}, `{"payload":{}}`},
		{"room without input", TargetSpec{Origin: OriginRoom, Room: Property{Type: PropInput, Value: "payload.room"}}, ``},
		{"broken form payload", TargetSpec{Origin: OriginRoom, Room: Property{Type: PropForm, Value: `{"i":`}}, `{}`},
		{"input not json", TargetSpec{Origin: OriginRoom, Room: Property{Type: PropInput, Value: "room"}}, `room=R1`},
		{"unknown property type", TargetSpec{Origin: OriginRoom, Room: Property{Type: "flow", Value: "room"}}, `{}`},
		{"live without token", TargetSpec{Origin: OriginLive, Room: Property{Value: "L1"}}, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveTarget(tt.spec, []byte(tt.input))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPropertyFromEnv(t *testing.T) {
	t.Setenv("RC_TEST_ROOM", "ENVROOM")
	got, err := Property{Type: PropEnv, Value: "RC_TEST_ROOM"}.Eval(nil)
	require.NoError(t, err)
	assert.Equal(t, "ENVROOM", got)
}

func TestTargetLogOmitsToken(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	log.Info().Object("target", Target{Origin: OriginLive, RoomID: "L1", VisitorToken: "secret-visitor", SessionID: "conv-3"}).Msg("")

	assert.NotContains(t, buf.String(), "secret-visitor")
	assert.Contains(t, buf.String(), `"room_id":"L1"`)
	assert.Contains(t, buf.String(), `"session_id":"conv-3"`)
}

func TestParseOrigin(t *testing.T) {
	o, err := ParseOrigin("live")
	require.NoError(t, err)
	assert.Equal(t, OriginLive, o)

	_, err = ParseOrigin("channel")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
