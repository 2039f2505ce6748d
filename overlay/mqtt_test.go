package overlay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_DisabledWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	c, err := InitMQTT(DefaultConfig(), func(ViewportCommand) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestInitMQTT_RequiresHandler(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://127.0.0.1:1")

	_, err := InitMQTT(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestResolvePrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Equal(t, DefaultPublishPrefix, resolvePrefix(""))
	assert.Equal(t, "trip", resolvePrefix("trip"))

	t.Setenv("MQTT_PUBLISH_PREFIX", "env")
	assert.Equal(t, "env", resolvePrefix("trip"))
}

func TestMQTTClient_SubscribesOnConnect(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()

	var got []ViewportCommand
	c := newMQTTClientWithMock(mock, "", func(cmd ViewportCommand) error {
		got = append(got, cmd)
		return nil
	})
	mock.SetOnConnect(c.onConnect)

	require.NoError(t, mock.Connect().Error())
	assert.True(t, c.IsConnected())
	assert.Equal(t, "travelmap/viewport/set", c.ViewportCommandTopic())
	require.True(t, mock.Subscribed("travelmap/viewport/set"))

	mock.SimulateMessage("travelmap/viewport/set", []byte(`{"zoom":7,"panBy":[10,-5]}`))
	mock.SimulateMessage("travelmap/viewport/set", []byte(`not json`))

	require.Len(t, got, 1, "malformed payloads are dropped")
	require.NotNil(t, got[0].Zoom)
	assert.Equal(t, 7.0, *got[0].Zoom)
	require.NotNil(t, got[0].PanBy)
	assert.Equal(t, [2]float64{10, -5}, *got[0].PanBy)
	assert.Nil(t, got[0].Center)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.False(t, mock.IsConnected())
}

func TestMQTTClient_CommandDrivesViewport(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	v := testViewport(t)
	r, err := NewRegistry(tripDefinitions(t))
	require.NoError(t, err)
	require.NoError(t, r.Attach(v))
	src, _ := v.Source(DefaultSourceID)
	before := src.Version()

	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, "", v.Apply)
	mock.SetOnConnect(c.onConnect)
	require.NoError(t, mock.Connect().Error())

	mock.SimulateMessage(c.ViewportCommandTopic(), []byte(`{"center":[-88,14],"zoom":8}`))
	assert.Equal(t, orb.Point{-88, 14}, v.State().Center)
	assert.Equal(t, 8.0, v.State().Zoom)
	assert.Equal(t, before+2, src.Version(), "move and zoom each republish")

	mock.SimulateMessage(c.ViewportCommandTopic(), []byte(`{"width":0}`))
	assert.Equal(t, 800, v.State().Width, "rejected commands leave the camera alone")
}

func TestPublisher_PublishFeatures(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	p := NewPublisher(mock, "")

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 2}))

	err := p.PublishFeatures(fc)
	assert.Error(t, err, "not connected yet")

	mock.SetConnected(true)
	require.NoError(t, p.PublishFeatures(fc))
	assert.Equal(t, 1, p.Published())

	msg, ok := mock.Retained("travelmap/routes")
	require.True(t, ok)
	assert.True(t, msg.Retain)
	assert.Equal(t, byte(0), msg.QoS)

	got, err := geojson.UnmarshalFeatureCollection(msg.Payload)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	assert.Equal(t, orb.Point{1, 2}, got.Features[0].Geometry)
}

func TestPublisher_PublishError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetPublishError(errors.New("queue full"))
	p := NewPublisher(mock, "trip")

	err := p.PublishFeatures(geojson.NewFeatureCollection())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
	assert.Equal(t, 0, p.Published())
}

func TestPublisher_PublishViewport(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, "trip")
	p.SetQoS(1)
	p.SetQoS(5)
	p.SetRetain(false)

	state := ViewportState{Center: orb.Point{-85, 12}, Zoom: 5, Width: 800, Height: 600}
	require.NoError(t, p.PublishViewport(state))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "trip/viewport", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS, "invalid QoS values are ignored")
	assert.False(t, msgs[0].Retain)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, []any{-85.0, 12.0}, got["center"])
	assert.Equal(t, 800.0, got["width"])
	assert.Contains(t, got, "timestamp")
}

func TestPublisher_AsRegistrySink(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, "")

	r, err := NewRegistry(tripDefinitions(t), WithSink("mqtt", p))
	require.NoError(t, err)
	v := testViewport(t)
	require.NoError(t, r.Attach(v))
	v.Load()

	assert.Equal(t, 3, p.Published())
	msg, ok := mock.Retained(p.RoutesTopic())
	require.True(t, ok)

	want, err := r.Last().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(msg.Payload))
}

func TestMQTTClient_OnConnectedHookRunsAfterSubscribe(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, "", func(ViewportCommand) error { return nil })

	var subscribedFirst bool
	c.SetOnConnected(func() { subscribedFirst = mock.Subscribed(c.ViewportCommandTopic()) })
	mock.SetOnConnect(c.onConnect)
	require.NoError(t, mock.Connect().Error())
	assert.True(t, subscribedFirst)

	called := false
	c.SetOnConnected(func() { called = true })
	mock.SetSubscribeError(errors.New("not authorized"))
	require.NoError(t, mock.Connect().Error())
	assert.False(t, called, "hook is skipped when the subscription fails")
}
