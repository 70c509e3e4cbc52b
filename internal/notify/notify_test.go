package notify

import "testing"

func TestFanout(t *testing.T) {
	var a, b Recorder
	var f Fanout
	f.Add(&a)
	f.Add(&b)

	f.Notify(Error("zigbee.0", "pairing failed"))

	for name, r := range map[string]*Recorder{"a": &a, "b": &b} {
		got := r.All()
		if len(got) != 1 {
			t.Fatalf("sink %s received %d notifications, want 1", name, len(got))
		}
		if got[0].Level != LevelError || got[0].Message != "pairing failed" || got[0].Instance != "zigbee.0" {
			t.Errorf("sink %s received %+v", name, got[0])
		}
		if got[0].Time.IsZero() {
			t.Errorf("sink %s notification has no time", name)
		}
	}
}

func TestDiscard(t *testing.T) {
	Discard.Notify(Error("x", "y"))
}
