package collector

import "testing"

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if r.Len() != 3 {
		t.Fatalf("容量 3 的环写入 5 条后长度应为 3, 实际 %d", r.Len())
	}

	got := r.Snapshot()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("快照应保留最新条目 %v, 实际 %v", want, got)
		}
	}
}

func TestRingAtCapacityBoundary(t *testing.T) {
	r := NewRing[int](10000)
	for i := 0; i < 10001; i++ {
		r.Push(i)
	}
	if r.Len() != 10000 {
		t.Fatalf("长度应保持在容量上限, 实际 %d", r.Len())
	}
	if got := r.Snapshot()[0]; got != 1 {
		t.Fatalf("超出容量后第一条应为 1, 实际 %d", got)
	}
}

func TestRingTrimToLast(t *testing.T) {
	r := NewRing[int](10)
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}

	r.TrimToLast(2)
	if r.Len() != 2 {
		t.Fatalf("裁剪后长度应为 2, 实际 %d", r.Len())
	}
	got := r.Snapshot()
	if got[0] != 5 || got[1] != 6 {
		t.Fatalf("裁剪应保留最新两条, 实际 %v", got)
	}

	// Trimming below the current size is a no-op.
	r.TrimToLast(5)
	if r.Len() != 2 {
		t.Fatalf("保留数大于当前长度时不应变化, 实际 %d", r.Len())
	}

	r.Push(7)
	got = r.Snapshot()
	if len(got) != 3 || got[2] != 7 {
		t.Fatalf("裁剪后继续写入应接在末尾, 实际 %v", got)
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("清空后长度应为 0, 实际 %d", r.Len())
	}
	if r.Cap() != 4 {
		t.Fatalf("清空不应改变容量, 实际 %d", r.Cap())
	}
}
