package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
	voicemock "github.com/MrWong99/mockinterview/pkg/provider/voice/mock"
)

func generateParams(user string) interview.Params {
	return interview.Params{Mode: interview.ModeGenerate, UserID: user, WorkflowID: "wf"}
}

func TestSessionManager_NavigateAndEvict(t *testing.T) {
	t.Parallel()

	vp := &voicemock.Provider{}
	sm := NewSessionManager(vp)
	sm.retention = 20 * time.Millisecond

	snap, err := sm.Start(context.Background(), generateParams("u1"))
	if err != nil {
		t.Fatal(err)
	}
	_, navigate, err := sm.Session(snap.ID)
	if err != nil {
		t.Fatal(err)
	}

	eng := vp.Last()
	eng.Emit(voice.Event{Kind: voice.EventCallStart})
	eng.Emit(voice.Event{Kind: voice.EventCallEnd})

	select {
	case d := <-navigate:
		if d != interview.DestinationHome {
			t.Errorf("destination = %q, want home", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no navigation published")
	}

	// Still readable right after finishing.
	if _, err := sm.Get(snap.ID); err != nil {
		t.Errorf("Get after finish: %v", err)
	}
	waitFor(t, "eviction", func() bool { return sm.Len() == 0 })
	if eng.ListenerCount() != 0 {
		t.Errorf("evicted session still subscribed")
	}
	if _, err := sm.Get(snap.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after eviction = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManager_NavigateUnknownIsIgnored(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager(&voicemock.Provider{})
	sm.Navigate(context.Background(), "missing", interview.DestinationHome)
}

func TestSessionManager_StartFailureKeepsSession(t *testing.T) {
	t.Parallel()

	vp := &voicemock.Provider{Engines: []*voicemock.Engine{{StartErr: errors.New("refused")}}}
	sm := NewSessionManager(vp)

	snap, err := sm.Start(context.Background(), generateParams("u1"))
	if err == nil {
		t.Fatal("expected start error")
	}
	if snap.ID == "" || snap.State != interview.StateIdle {
		t.Fatalf("snapshot = %+v", snap)
	}
	if sm.Len() != 1 {
		t.Errorf("Len = %d, want 1", sm.Len())
	}
}

func TestSessionManager_DropsUnfinishedIdleSessions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		engine    *voicemock.Engine
		wantStops int
	}{
		{name: "abandoned failed start", engine: &voicemock.Engine{StartErr: errors.New("refused")}},
		{name: "engine never answers", engine: &voicemock.Engine{}, wantStops: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			vp := &voicemock.Provider{Engines: []*voicemock.Engine{tt.engine}}
			sm := NewSessionManager(vp)
			sm.idleTTL = 30 * time.Millisecond

			snap, _ := sm.Start(context.Background(), generateParams("u1"))
			if snap.ID == "" {
				t.Fatal("session not created")
			}
			waitFor(t, "idle drop", func() bool { return sm.Len() == 0 })

			if _, err := sm.Get(snap.ID); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("Get after idle drop = %v, want ErrSessionNotFound", err)
			}
			if got := tt.engine.Stops(); got != tt.wantStops {
				t.Errorf("engine stops = %d, want %d", got, tt.wantStops)
			}
			if tt.engine.ListenerCount() != 0 {
				t.Error("dropped session still subscribed")
			}
		})
	}
}

func TestSessionManager_ActivityPostponesIdleDrop(t *testing.T) {
	t.Parallel()

	vp := &voicemock.Provider{}
	sm := NewSessionManager(vp)
	sm.idleTTL = 150 * time.Millisecond

	snap, err := sm.Start(context.Background(), generateParams("u1"))
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		time.Sleep(50 * time.Millisecond)
		if _, err := sm.Get(snap.ID); err != nil {
			t.Fatalf("session dropped despite activity: %v", err)
		}
	}
	waitFor(t, "idle drop", func() bool { return sm.Len() == 0 })
}

func TestSessionManager_InvalidParams(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager(&voicemock.Provider{})
	snap, err := sm.Start(context.Background(), interview.Params{Mode: interview.ModeGenerate})
	if err == nil || snap.ID != "" {
		t.Fatalf("Start = %+v, %v", snap, err)
	}
	if sm.Len() != 0 {
		t.Errorf("invalid session tracked")
	}
}

func TestSessionManager_RetryKeepsID(t *testing.T) {
	t.Parallel()

	vp := &voicemock.Provider{}
	sm := NewSessionManager(vp)

	snap, err := sm.Start(context.Background(), generateParams("u1"))
	if err != nil {
		t.Fatal(err)
	}
	first := vp.Last()

	retried, err := sm.Retry(context.Background(), snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.ID != snap.ID {
		t.Errorf("retry id = %q, want %q", retried.ID, snap.ID)
	}
	if first.ListenerCount() != 0 || first.Stops() != 1 {
		t.Errorf("old engine listeners=%d stops=%d", first.ListenerCount(), first.Stops())
	}

	// Events from the discarded engine no longer reach the session.
	first.Emit(voice.Event{Kind: voice.EventCallStart})
	if got, _ := sm.Get(snap.ID); got.State != interview.StateConnecting {
		t.Errorf("state = %v, want connecting", got.State)
	}

	if _, err := sm.Retry(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Retry(missing) = %v", err)
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	t.Parallel()

	vp := &voicemock.Provider{}
	sm := NewSessionManager(vp)
	for _, u := range []string{"u1", "u2"} {
		if _, err := sm.Start(context.Background(), generateParams(u)); err != nil {
			t.Fatal(err)
		}
	}

	sm.CloseAll()
	if sm.Len() != 0 {
		t.Errorf("Len = %d after CloseAll", sm.Len())
	}
	for i, e := range vp.Created {
		if e.Stops() != 1 || e.ListenerCount() != 0 {
			t.Errorf("engine %d: stops=%d listeners=%d", i, e.Stops(), e.ListenerCount())
		}
	}
	if err := sm.Close("anything"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Close after CloseAll = %v", err)
	}
}
