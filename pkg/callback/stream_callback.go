package callback

import (
	"io"
	"time"

	"github.com/forgeops/forge/pkg/types"
	"github.com/forgeops/forge/pkg/websocket"
)

// StreamCallback fans engine lifecycle events out over a
// websocket.StreamServer, adapted from pkg/websocket/stream_server.go's
// BroadcastStreamEvent so a live UI can subscribe to a playbook run the
// same way it subscribes to a single streaming-module command.
type StreamCallback struct {
	server *websocket.StreamServer
	source string
}

// NewStreamCallback wraps an already-running StreamServer. source
// identifies this callback's events among others multiplexed onto the
// same server (see StreamServer.BroadcastStreamEvent).
func NewStreamCallback(server *websocket.StreamServer, source string) *StreamCallback {
	return &StreamCallback{server: server, source: source}
}

func (sc *StreamCallback) Name() string                                   { return "stream" }
func (sc *StreamCallback) Initialize(config map[string]interface{}) error { return nil }
func (sc *StreamCallback) SetOutput(writer io.Writer)                     {}

func (sc *StreamCallback) broadcast(eventType types.StreamEventType, data string, result *types.Result) {
	sc.server.BroadcastStreamEvent(types.StreamEvent{
		Type:      eventType,
		Data:      data,
		Result:    result,
		Timestamp: time.Now(),
	}, sc.source)
}

func (sc *StreamCallback) OnPlaybookStart(name string) {
	sc.broadcast(types.StreamStepStart, "playbook:"+name, nil)
}

func (sc *StreamCallback) OnPlaybookEnd(name string, success bool) {
	eventType := types.StreamStepEnd
	if !success {
		eventType = types.StreamError
	}
	sc.broadcast(eventType, "playbook:"+name, nil)
}

func (sc *StreamCallback) OnPlayStart(play *types.Play) {
	sc.broadcast(types.StreamStepStart, "play:"+play.Name, nil)
}

func (sc *StreamCallback) OnTaskStart(task *types.Task, hosts []types.Host) {
	sc.broadcast(types.StreamStepStart, "task:"+task.Name, nil)
}

func (sc *StreamCallback) OnTaskResult(task *types.Task, result *types.Result) {
	eventType := types.StreamDone
	if !result.Success {
		eventType = types.StreamError
	}
	r := *result
	sc.broadcast(eventType, "task:"+task.Name, &r)
}

func (sc *StreamCallback) OnHandlerTriggered(name string) {
	sc.broadcast(types.StreamStepUpdate, "handler:"+name, nil)
}

func (sc *StreamCallback) OnFactsGathered(host string, facts map[string]interface{}) {
	sc.broadcast(types.StreamStepUpdate, "facts:"+host, nil)
}

func (sc *StreamCallback) OnPlayEnd(play *types.Play, results []types.Result) {
	sc.broadcast(types.StreamStepEnd, "play:"+play.Name, nil)
}

func (sc *StreamCallback) OnRunnerEnd(stats *RunStats) {
	sc.broadcast(types.StreamDone, "runner", nil)
}
