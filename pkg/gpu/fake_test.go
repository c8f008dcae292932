package gpu

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestFakeTree_Layout(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(2, 9); err != nil {
		t.Fatal(err)
	}

	link, err := os.Readlink(filepath.Join(f.Root(), "card2", "device"))
	if err != nil {
		t.Fatalf("card2/device is not a symlink: %v", err)
	}
	if filepath.Base(link) != "0000:05:00.0" {
		t.Errorf("device link = %q, want slot 0000:05:00.0", link)
	}

	name, err := os.ReadFile(filepath.Join(f.HwmonPath(2), "name"))
	if err != nil {
		t.Fatal(err)
	}
	if string(name) != "amdgpu\n" {
		t.Errorf("hwmon name = %q, want amdgpu", name)
	}

	if _, err := os.Stat(filepath.Join(f.Root(), "card2-DP-1")); err != nil {
		t.Errorf("connector entry missing: %v", err)
	}
}

func TestFakeTree_WriteWithoutHwmon(t *testing.T) {
	f := newTree(t)
	if err := f.AddCard(FakeCard{Index: 0, Hwmon: -1}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetHwmon(0, "temp1_input", 1); err == nil {
		t.Error("SetHwmon() on a card without hwmon should fail")
	}
	if err := f.SetDevice(3, "gpu_busy_percent", 1); err == nil {
		t.Error("SetDevice() on a missing card should fail")
	}
}

func TestFakeTree_Jitter(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(0, 0); err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 5; i++ {
		if err := f.Jitter(0, rng); err != nil {
			t.Fatalf("Jitter() error = %v", err)
		}
	}

	dev := selectCard(t, f, "card0")
	snap := NewBuilder(NewReader()).Poll(context.Background(), dev, BuildCatalog(dev), Adaptive())
	_, _, errored := snap.Counts()
	if errored != 0 {
		t.Errorf("jittered tree produced %d errors", errored)
	}
	busy, _ := snap.Get("gpu_busy")
	if busy.Value < 0 || busy.Value >= 100 {
		t.Errorf("gpu_busy = %v, want 0-99", busy.Value)
	}
}
