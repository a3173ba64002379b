package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosdk/pkg/api"
	"neurosdk/pkg/protocol"
)

func TestCodec_EncodeEnvelope(t *testing.T) {
	codec := protocol.Codec{Game: "Tic Tac Toe"}

	t.Run("Startup Has No Data", func(t *testing.T) {
		out, err := codec.Encode(protocol.Startup{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"startup","game":"Tic Tac Toe"}`, string(out))
	})

	t.Run("Context", func(t *testing.T) {
		out, err := codec.Encode(protocol.Context{Message: "X played at 1", Silent: true})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"context","game":"Tic Tac Toe","data":{"message":"X played at 1","silent":true}}`, string(out))
	})

	t.Run("Register Omits Missing Schema", func(t *testing.T) {
		out, err := codec.Encode(protocol.RegisterActions{Actions: []protocol.ActionSpec{
			{Name: "wave", Description: "Wave at chat"},
			{Name: "jump", Description: "Jump", Schema: []byte(`{"type":"object"}`)},
		}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"actions/register","game":"Tic Tac Toe","data":{"actions":[
			{"name":"wave","description":"Wave at chat"},
			{"name":"jump","description":"Jump","schema":{"type":"object"}}]}}`, string(out))
	})

	t.Run("Force Optional Fields", func(t *testing.T) {
		out, err := codec.Encode(protocol.ForceActions{Description: "pick one", ActionNames: []string{"jump", "duck"}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"actions/force","game":"Tic Tac Toe","data":{"description":"pick one","action_names":["jump","duck"]}}`, string(out))
	})

	t.Run("Empty Unregister Is An Array", func(t *testing.T) {
		out, err := codec.Encode(protocol.UnregisterActions{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"actions/unregister","game":"Tic Tac Toe","data":{"action_names":[]}}`, string(out))
	})

	t.Run("No Game", func(t *testing.T) {
		out, err := protocol.Encode(protocol.ShutdownReady{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"shutdown/ready"}`, string(out))
	})
}

func TestCodec_RoundTrip(t *testing.T) {
	commands := []protocol.Command{
		protocol.Startup{},
		protocol.Context{Message: "hello", Silent: false},
		protocol.RegisterActions{Actions: []protocol.ActionSpec{
			{Name: "jump", Description: "Jump", Schema: []byte(`{"type":"object","properties":{"height":{"type":"integer"}}}`)},
		}},
		protocol.UnregisterActions{ActionNames: []string{"jump"}},
		protocol.ForceActions{State: "turn 3", Description: "pick one", EphemeralContext: true, ActionNames: []string{"jump", "duck"}},
		protocol.ActionRequest{ID: "req-1", Action: "jump", Params: map[string]any{"height": float64(3)}},
		protocol.ActionRequest{ID: "req-2", Action: "wave"},
		protocol.ActionResult{ID: "req-1", Success: true, Message: "jumped"},
		protocol.ReregisterAll{},
		protocol.ShutdownGraceful{WantsShutdown: true},
		protocol.ShutdownImmediate{},
		protocol.ShutdownReady{},
	}

	for _, cmd := range commands {
		t.Run(cmd.Name(), func(t *testing.T) {
			out, err := protocol.Encode(cmd)
			require.NoError(t, err)

			decoded, err := protocol.Decode(out)
			require.NoError(t, err)
			assert.Equal(t, cmd, decoded)

			again, err := protocol.Encode(decoded)
			require.NoError(t, err)
			assert.JSONEq(t, string(out), string(again))
		})
	}
}

func TestDecode_ActionData(t *testing.T) {
	t.Run("String Holding JSON", func(t *testing.T) {
		cmd, err := protocol.Decode([]byte(`{"command":"action","data":{"id":"a1","name":"jump","data":"{\"height\":3}"}}`))
		require.NoError(t, err)
		assert.Equal(t, protocol.ActionRequest{ID: "a1", Action: "jump", Params: map[string]any{"height": float64(3)}}, cmd)
	})

	t.Run("Empty String Means No Parameters", func(t *testing.T) {
		cmd, err := protocol.Decode([]byte(`{"command":"action","data":{"id":"a1","name":"wave","data":""}}`))
		require.NoError(t, err)
		assert.Nil(t, cmd.(protocol.ActionRequest).Params)
	})

	t.Run("Codec Can Send Strings", func(t *testing.T) {
		out, err := protocol.Codec{StringData: true}.Encode(protocol.ActionRequest{ID: "a1", Action: "jump", Params: map[string]any{"height": 3}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"action","data":{"id":"a1","name":"jump","data":"{\"height\":3}"}}`, string(out))

		cmd, err := protocol.Decode(out)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"height": float64(3)}, cmd.(protocol.ActionRequest).Params)
	})
}

func TestDecode_Game(t *testing.T) {
	frame, err := protocol.DecodeFrame([]byte(`{"command":"startup","game":"Tic Tac Toe"}`))
	require.NoError(t, err)
	assert.Equal(t, "Tic Tac Toe", frame.Game)
	assert.Equal(t, protocol.Startup{}, frame.Command)
}

func TestDecode_Unknown(t *testing.T) {
	cmd, err := protocol.Decode([]byte(`{"command":"actions/teleport","data":{"where":"moon"}}`))
	require.NoError(t, err)

	unknown, ok := cmd.(protocol.Unknown)
	require.True(t, ok)
	assert.Equal(t, "actions/teleport", unknown.Name())
	assert.JSONEq(t, `{"where":"moon"}`, string(unknown.Data))
}

func TestDecode_Malformed(t *testing.T) {
	frames := map[string]string{
		"Garbage":            "\x00\xff not json",
		"Empty":              "",
		"Array":              `[1,2,3]`,
		"Truncated":          `{"command":"context","data":{"message":`,
		"Missing Command":    `{"data":{}}`,
		"Command Not String": `{"command":42}`,
		"Context No Data":    `{"command":"context"}`,
		"Context No Message": `{"command":"context","data":{"silent":true}}`,
		"Result No Success":  `{"command":"action/result","data":{"id":"x"}}`,
		"Register Nameless":  `{"command":"actions/register","data":{"actions":[{"description":"?"}]}}`,
		"Force Data Array":   `{"command":"actions/force","data":["jump"]}`,
		"Action Without Id":  `{"command":"action","data":{"name":"jump"}}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			cmd, err := protocol.Decode([]byte(frame))
			assert.Nil(t, cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, api.ErrMalformed))

			var malformed *protocol.MalformedError
			assert.ErrorAs(t, err, &malformed)
			assert.Empty(t, malformed.ID)
		})
	}
}

func TestDecode_MalformedActionKeepsID(t *testing.T) {
	frames := map[string]string{
		"Missing Name":      `{"command":"action","data":{"id":"a7"}}`,
		"Data Not Object":   `{"command":"action","data":{"id":"a7","name":"jump","data":[1]}}`,
		"Bad String Data":   `{"command":"action","data":{"id":"a7","name":"jump","data":"{height"}}`,
		"Name Wrong Type":   `{"command":"action","data":{"id":"a7","name":5}}`,
		"String Holds List": `{"command":"action","data":{"id":"a7","name":"jump","data":"[1,2]"}}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(frame))
			var malformed *protocol.MalformedError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, "a7", malformed.ID)
			assert.Equal(t, protocol.CmdAction, malformed.Command)
		})
	}
}
