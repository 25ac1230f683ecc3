package status

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(Snapshot{ChainID: 1, Target: "1:0xaaa", State: Syncing})

	select {
	case snap := <-ch:
		if snap.State != Syncing {
			t.Fatalf("expected Syncing, got %v", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published snapshot")
	}
}

func TestPublishRecordsLastAndSnapshots(t *testing.T) {
	bus := NewBus()
	bus.Publish(Snapshot{ChainID: 1, Target: "1:0xaaa", State: Active})
	bus.Publish(Snapshot{ChainID: 2, Target: "2:0xbbb", State: Failure, Msg: "rpc dial failed"})

	last, ok := bus.Last("1:0xaaa")
	if !ok || last.State != Active {
		t.Fatalf("expected Active snapshot for target 1, got %+v ok=%v", last, ok)
	}

	all := bus.Snapshots()
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked targets, got %d", len(all))
	}
	if all["2:0xbbb"].Msg != "rpc dial failed" {
		t.Fatalf("expected failure msg preserved, got %+v", all["2:0xbbb"])
	}
}

func TestPublishDropsRatherThanBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	for i := 0; i < 100; i++ {
		bus.Publish(Snapshot{Target: "1:0xaaa", State: Syncing})
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected at least one buffered snapshot to be readable")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestSnapshotMarshalsStateAsString(t *testing.T) {
	snap := Snapshot{ChainID: 1, Target: "1:0xaaa", State: Failure, Msg: "boom"}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["state"] != "failure" {
		t.Fatalf("expected state to render as \"failure\", got %v", out["state"])
	}
}
