package server

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/VGCH/alpha-private-speaker-connector/internal/protocol"
)

func TestSendTTSRoundTrip(t *testing.T) {
	events := &fakeBus{}
	svc := newTestService(t, nil, events)
	register(t, svc, "kitchen-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The fake speaker acknowledges every TTS command it receives.
	stream := &fakeTTSStream{ctx: ctx}
	stream.onSend = func(req *protocol.SpeakTextRequest) {
		if req.Text == "" {
			return
		}
		go svc.SendTTSResponse(context.Background(), &protocol.SpeakTextResponse{
			SpeakerID: req.SpeakerID,
			MessageID: req.MessageID,
			Success:   true,
			Message:   "spoken",
			Timestamp: time.Now().UnixMilli(),
		})
	}

	streamDone := make(chan error, 1)
	go func() {
		streamDone <- svc.StreamTTSCommands(&protocol.StateStreamRequest{SpeakerID: "kitchen-1"}, stream)
	}()

	// Wait for the stream loop to install its queue.
	waitForQueue(t, svc, "kitchen-1")

	if !svc.SendTTS("kitchen-1", "hello", "uk", "", 50, false) {
		t.Error("SendTTS = false, want true")
	}

	stream.mu.Lock()
	var delivered *protocol.SpeakTextRequest
	for _, req := range stream.sent {
		if req.Text != "" {
			delivered = req
		}
	}
	stream.mu.Unlock()

	if delivered == nil {
		t.Fatal("no TTS command delivered on the stream")
	}
	if delivered.Text != "hello" || delivered.Volume != 50 {
		t.Errorf("delivered = %+v", delivered)
	}
	if delivered.MessageID == "" || !strings.HasPrefix(delivered.MessageID, "tts_") {
		t.Errorf("MessageID = %q", delivered.MessageID)
	}
	if !events.has("tts_command_sent") || !events.has("tts_response") {
		t.Errorf("events = %v", events.events)
	}
	if n := svc.correlator.PendingCount(); n != 0 {
		t.Errorf("pending entries after resolution = %d, want 0", n)
	}

	cancel()
	if err := <-streamDone; err != nil {
		t.Fatalf("StreamTTSCommands: %v", err)
	}
}

func TestSendTTSNoActiveStream(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")

	if svc.SendTTS("kitchen-1", "hello", "", "", 0, false) {
		t.Error("SendTTS succeeded without a TTS stream")
	}
}

func TestSendTTSTimeout(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stream delivers but the speaker never acknowledges.
	stream := &fakeTTSStream{ctx: ctx}
	go svc.StreamTTSCommands(&protocol.StateStreamRequest{SpeakerID: "kitchen-1"}, stream)
	waitForQueue(t, svc, "kitchen-1")

	start := time.Now()
	if svc.SendTTS("kitchen-1", "hello", "", "", 0, false) {
		t.Error("SendTTS = true without acknowledgement")
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Errorf("SendTTS returned after %s, before the correlation timeout", elapsed)
	}
	if n := svc.correlator.PendingCount(); n != 0 {
		t.Errorf("pending entries after timeout = %d, want 0", n)
	}
}

func TestSendTTSFullQueueKeepsRegistration(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")

	// A slow speaker: queue of one, already holding an undelivered command.
	q := svc.tracker.ReplaceTTSQueue("kitchen-1", 1)
	q <- &protocol.SpeakTextRequest{SpeakerID: "kitchen-1", Text: "backlog"}

	if svc.SendTTS("kitchen-1", "overflow", "", "", 0, false) {
		t.Error("SendTTS = true with a full queue, want false")
	}
	current, ok := svc.tracker.TTSQueue("kitchen-1")
	if !ok || current != q {
		t.Fatal("full queue was deregistered; the stream still owns it")
	}
	if n := svc.correlator.PendingCount(); n != 0 {
		t.Errorf("pending entries = %d, want 0", n)
	}

	// Once the speaker catches up, sends go through again.
	<-q
	go func() {
		req := <-q
		svc.SendTTSResponse(context.Background(), &protocol.SpeakTextResponse{
			SpeakerID: req.SpeakerID,
			MessageID: req.MessageID,
			Success:   true,
			Timestamp: time.Now().UnixMilli(),
		})
	}()
	if !svc.SendTTS("kitchen-1", "hello again", "", "", 0, false) {
		t.Error("SendTTS = false after the queue drained, want true")
	}
}

func TestLateResponseIsAcceptedSilently(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")

	ack, err := svc.SendTTSResponse(context.Background(), &protocol.SpeakTextResponse{
		SpeakerID: "kitchen-1",
		MessageID: "tts_0_deadbeef",
		Success:   true,
	})
	if err != nil {
		t.Fatalf("SendTTSResponse: %v", err)
	}
	if !ack.Success {
		t.Error("unmatched response was not acknowledged")
	}
}

func TestTTSStreamHeartbeat(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	svc.cfg.TTS.StreamHeartbeat = 1
	register(t, svc, "kitchen-1")

	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeTTSStream{ctx: ctx}
	stream.onSend = func(req *protocol.SpeakTextRequest) {
		if strings.HasPrefix(req.MessageID, "keepalive_") {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- svc.StreamTTSCommands(&protocol.StateStreamRequest{SpeakerID: "kitchen-1"}, stream)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StreamTTSCommands: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no heartbeat within 10s")
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.sent) == 0 || stream.sent[0].Text != "" {
		t.Errorf("heartbeat = %+v", stream.sent)
	}
}

func TestReconnectRaceQueueIdentity(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})

	q1 := svc.tracker.ReplaceTTSQueue("kitchen-1", 4)
	q2 := svc.tracker.ReplaceTTSQueue("kitchen-1", 4)

	// The displaced stream's cleanup must not remove its successor's queue.
	if svc.tracker.RemoveTTSQueue("kitchen-1", q1) {
		t.Error("stale queue removal succeeded")
	}
	current, ok := svc.tracker.TTSQueue("kitchen-1")
	if !ok || current != q2 {
		t.Error("active queue lost after stale cleanup attempt")
	}

	if !svc.tracker.RemoveTTSQueue("kitchen-1", q2) {
		t.Error("active queue removal failed")
	}
	if _, ok := svc.tracker.TTSQueue("kitchen-1"); ok {
		t.Error("queue still registered after removal")
	}
}

func TestCorrelatorResolvesOnce(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("msg-1")

	if !c.Resolve("msg-1", true, "ok") {
		t.Fatal("first resolution failed")
	}
	if c.Resolve("msg-1", false, "dup") {
		t.Error("second resolution succeeded")
	}

	res := <-ch
	if !res.success {
		t.Errorf("result = %+v", res)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}
}

func TestCorrelatorConcurrentResolve(t *testing.T) {
	c := NewCorrelator()
	c.Register("msg-1")

	var wg sync.WaitGroup
	resolved := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved <- c.Resolve("msg-1", true, "")
		}()
	}
	wg.Wait()
	close(resolved)

	wins := 0
	for ok := range resolved {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("resolution won %d times, want exactly 1", wins)
	}
}

func TestTestConnection(t *testing.T) {
	events := &fakeBus{}
	svc := newTestService(t, nil, events)

	if svc.TestConnection("ghost") {
		t.Error("TestConnection true for unknown speaker")
	}
	register(t, svc, "kitchen-1")
	if !svc.TestConnection("kitchen-1") {
		t.Error("TestConnection false for registered speaker")
	}
	if !events.has("test_response") {
		t.Error("test_response event not emitted")
	}
}

func waitForQueue(t *testing.T, svc *Service, speakerID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := svc.tracker.TTSQueue(speakerID); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("TTS queue never installed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
