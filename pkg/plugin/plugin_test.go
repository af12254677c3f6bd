package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensrpc/lens/pkg/protocol"
)

type recordingPlugin struct {
	name         string
	calls        *[]string
	vetoConnect  bool
	vetoSubscribe bool
}

func (p *recordingPlugin) OnConnect(_ context.Context, _ ConnectContext) bool {
	*p.calls = append(*p.calls, p.name+":connect")
	return !p.vetoConnect
}

func (p *recordingPlugin) OnSubscribe(_ context.Context, _ SubscribeEvent) bool {
	*p.calls = append(*p.calls, p.name+":subscribe")
	return !p.vetoSubscribe
}

func TestChain_ConnectRunsInOrderAndShortCircuitsOnVeto(t *testing.T) {
	var calls []string
	a := &recordingPlugin{name: "a", calls: &calls}
	b := &recordingPlugin{name: "b", calls: &calls, vetoConnect: true}
	c := &recordingPlugin{name: "c", calls: &calls}

	chain := NewChain(a, b, c)
	admitted := chain.Connect(context.Background(), ConnectContext{ClientID: "conn1"})

	assert.False(t, admitted)
	assert.Equal(t, []string{"a:connect", "b:connect"}, calls)
}

func TestChain_SubscribeAllowsWhenNoVeto(t *testing.T) {
	var calls []string
	a := &recordingPlugin{name: "a", calls: &calls}
	b := &recordingPlugin{name: "b", calls: &calls}

	chain := NewChain(a, b)
	ok := chain.Subscribe(context.Background(), SubscribeEvent{ClientID: "conn1", SubID: "s1", Path: "user.get"})

	assert.True(t, ok)
	assert.Equal(t, []string{"a:subscribe", "b:subscribe"}, calls)
}

type transformPlugin struct{ suffix string }

func (p *transformPlugin) BeforeSend(_ context.Context, _ string, frame any) (any, error) {
	return frame.(string) + p.suffix, nil
}

func TestChain_BeforeSendThreadsOutputBetweenPlugins(t *testing.T) {
	chain := NewChain(&transformPlugin{suffix: "-a"}, &transformPlugin{suffix: "-b"})
	out, err := chain.BeforeSend(context.Background(), "conn1", "frame")
	require.NoError(t, err)
	assert.Equal(t, "frame-a-b", out)
}

type broadcastPlugin struct {
	result *BroadcastResult
}

func (p *broadcastPlugin) OnBroadcast(_ context.Context, _ BroadcastEvent) (*BroadcastResult, error) {
	return p.result, nil
}

func TestChain_BroadcastReturnsFirstNonNilResult(t *testing.T) {
	first := &broadcastPlugin{result: nil}
	second := &broadcastPlugin{result: &BroadcastResult{Version: 3, Data: map[string]any{"id": "u1"}}}
	third := &broadcastPlugin{result: &BroadcastResult{Version: 99}}

	chain := NewChain(first, second, third)
	result, err := chain.Broadcast(context.Background(), BroadcastEvent{Entity: "User", EntityID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Version)
}

func TestChain_BroadcastReturnsNilWhenNoHookInstalled(t *testing.T) {
	chain := NewChain(&recordingPlugin{name: "a", calls: &[]string{}})
	result, err := chain.Broadcast(context.Background(), BroadcastEvent{Entity: "User", EntityID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, result)
}

type reconnectPlugin struct {
	results []ReconnectResult
}

func (p *reconnectPlugin) OnReconnect(_ context.Context, _ ReconnectContext) ([]ReconnectResult, error) {
	return p.results, nil
}

func TestChain_ReconnectReturnsFirstNonNilResults(t *testing.T) {
	chain := NewChain(&reconnectPlugin{results: nil}, &reconnectPlugin{results: []ReconnectResult{
		{ID: "s1", Status: protocol.ReconnectSnapshot, Version: 2},
	}})

	results, err := chain.Reconnect(context.Background(), ReconnectContext{ClientID: "conn1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, protocol.ReconnectSnapshot, results[0].Status)
}

func TestChain_DisconnectAndAfterSendRunAllPlugins(t *testing.T) {
	var disconnects []string
	var afters []string

	chain := NewChain(
		disconnectFunc(func(clientID string, n int) { disconnects = append(disconnects, clientID) }),
		afterSendFunc(func(clientID string, frame any) { afters = append(afters, clientID) }),
	)

	chain.Disconnect(context.Background(), "conn1", 2)
	chain.AfterSend(context.Background(), "conn1", "frame")

	assert.Equal(t, []string{"conn1"}, disconnects)
	assert.Equal(t, []string{"conn1"}, afters)
}

type disconnectFunc func(clientID string, subscriptionCount int)

func (f disconnectFunc) OnDisconnect(_ context.Context, clientID string, subscriptionCount int) {
	f(clientID, subscriptionCount)
}

type afterSendFunc func(clientID string, frame any)

func (f afterSendFunc) AfterSend(_ context.Context, clientID string, frame any) {
	f(clientID, frame)
}
