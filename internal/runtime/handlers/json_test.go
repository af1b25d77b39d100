package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

type jsonIncoming struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestBuildJSONHandlerDecodesPayload(t *testing.T) {
	var got JSONEnvelopeContext[*jsonIncoming]
	handler, err := BuildJSONHandler(func(ctx context.Context, evt JSONEnvelopeContext[*jsonIncoming]) error {
		require.NotNil(t, ctx)
		got = evt
		return nil
	}, newDiscardLogger())
	require.NoError(t, err)

	info := EnvelopeInfo{
		ID:        "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		EventType: "player.joined",
		Channel:   "players",
		Source:    "lobby",
		Metadata:  metadatapkg.Metadata{"origin": "test"},
	}
	require.NoError(t, handler(context.Background(), info, []byte(`{"id":42,"name":"ada"}`)))

	require.NotNil(t, got.Payload)
	assert.Equal(t, 42, got.Payload.ID)
	assert.Equal(t, "ada", got.Payload.Name)
	assert.Equal(t, "players", got.Channel)
	assert.Equal(t, "lobby", got.Source)
	assert.Equal(t, "test", got.Get("origin"))
	assert.NotNil(t, got.Logger)
}

func TestBuildJSONHandlerFreshValuePerInvocation(t *testing.T) {
	var seen []*jsonIncoming
	handler, err := BuildJSONHandler(func(_ context.Context, evt JSONEnvelopeContext[*jsonIncoming]) error {
		seen = append(seen, evt.Payload)
		return nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), EnvelopeInfo{}, []byte(`{"id":1,"name":"first"}`)))
	require.NoError(t, handler(context.Background(), EnvelopeInfo{}, []byte(`{"id":2}`)))

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
	assert.Equal(t, "", seen[1].Name)
}

func TestBuildJSONHandlerDecodeError(t *testing.T) {
	called := false
	handler, err := BuildJSONHandler(func(context.Context, JSONEnvelopeContext[*jsonIncoming]) error {
		called = true
		return nil
	}, nil)
	require.NoError(t, err)

	err = handler(context.Background(), EnvelopeInfo{EventType: "player.joined"}, []byte(`{invalid-json`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "player.joined", decodeErr.EventType)
	assert.Equal(t, "*handlers.jsonIncoming", decodeErr.PayloadType)
	assert.False(t, called)
}

func TestBuildJSONHandlerPropagatesHandlerError(t *testing.T) {
	boom := errors.New("handler failed")
	handler, err := BuildJSONHandler(func(context.Context, JSONEnvelopeContext[*jsonIncoming]) error {
		return boom
	}, nil)
	require.NoError(t, err)

	err = handler(context.Background(), EnvelopeInfo{}, []byte(`{"id":1}`))
	assert.ErrorIs(t, err, boom)
}

func TestBuildJSONHandlerValidatesInputs(t *testing.T) {
	_, err := BuildJSONHandler[*jsonIncoming](nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = BuildJSONHandler(func(context.Context, JSONEnvelopeContext[jsonIncoming]) error { return nil }, nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadPointerNeeded)
}

func TestJSONPrototypeFactoryValidations(t *testing.T) {
	_, err := jsonPrototypeFactory[any]()
	assert.ErrorIs(t, err, errspkg.ErrPayloadTypeRequired)

	_, err = jsonPrototypeFactory[jsonIncoming]()
	assert.ErrorIs(t, err, errspkg.ErrPayloadPointerNeeded)

	factory, err := jsonPrototypeFactory[*jsonIncoming]()
	require.NoError(t, err)
	assert.NotSame(t, factory(), factory())
}

func TestDecodeJSON(t *testing.T) {
	value, err := DecodeJSON[jsonIncoming]("player.joined", []byte(`{"id":7}`))
	require.NoError(t, err)
	assert.Equal(t, 7, value.ID)

	_, err = DecodeJSON[jsonIncoming]("player.joined", nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)

	_, err = DecodeJSON[jsonIncoming]("player.joined", []byte(`[1,2`))
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}
