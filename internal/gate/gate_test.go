// internal/gate/gate_test.go
package gate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGate_LimitEnforced(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()

	p1, err := g.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p2, err := g.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if p := g.TryAcquire(); p != nil {
		t.Fatal("第三个许可不应成功")
	}

	p1.Release()
	if p := g.TryAcquire(); p == nil {
		t.Fatal("释放后应能再次获取")
	} else {
		p.Release()
	}
	p2.Release()

	if g.InFlight() != 0 {
		t.Errorf("InFlight = %d", g.InFlight())
	}
}

func TestGate_AcquireHonorsCancellation(t *testing.T) {
	g := NewGate(1)
	p, _ := g.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Acquire(ctx)
	if err == nil {
		t.Fatal("取消后 Acquire 应当失败")
	}
	if time.Since(start) > time.Second {
		t.Error("Acquire 没有及时响应取消")
	}

	p.Release()
}

func TestPermit_ReleaseIdempotent(t *testing.T) {
	g := NewGate(1)
	p, _ := g.Acquire(context.Background())

	p.Release()
	p.Release()
	p.Release()

	// 重复释放不应使计数为负，再次获取后上限仍然是 1
	p2, _ := g.Acquire(context.Background())
	if got := g.TryAcquire(); got != nil {
		t.Fatal("重复释放破坏了许可计数")
	}
	p2.Release()
}

func TestGate_ConcurrentUse(t *testing.T) {
	g := NewGate(3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0
	active := 0

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer p.Release()

			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("并发峰值 = %d, 超过上限 3", peak)
	}
}

func TestRegistry_PerScopeGates(t *testing.T) {
	r := NewRegistry(2)

	g1 := r.For("session_a")
	g2 := r.For("session_a")
	g3 := r.For("session_b")

	if g1 != g2 {
		t.Error("同一作用域应复用同一个门")
	}
	if g1 == g3 {
		t.Error("不同作用域不应共用门")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestRegistry_EmptyScopeUnshared(t *testing.T) {
	r := NewRegistry(2)

	g1 := r.For("")
	g2 := r.For("")
	if g1 == g2 {
		t.Error("空作用域应返回独立的门")
	}
	if r.Len() != 0 {
		t.Errorf("空作用域不应注册, Len = %d", r.Len())
	}
}

func TestRegistry_Drop(t *testing.T) {
	r := NewRegistry(1)
	first := r.For("s")
	r.Drop("s")
	second := r.For("s")

	if first == second {
		t.Error("Drop 之后应创建新的门")
	}
}

func TestRegistry_DropIdleKeepsBusyGates(t *testing.T) {
	r := NewRegistry(1)

	busy := r.For("busy")
	p, _ := busy.Acquire(context.Background())
	r.For("idle")

	time.Sleep(5 * time.Millisecond)
	r.dropIdle(time.Millisecond)

	if r.Len() != 1 {
		t.Errorf("Len = %d, 在途许可的作用域不应被回收", r.Len())
	}
	p.Release()
}

func TestLimitFromEnv(t *testing.T) {
	cases := []struct {
		value string
		want  int
	}{
		{"", DefaultLimit},
		{"5", 5},
		{"0", DefaultLimit},
		{"-2", DefaultLimit},
		{"abc", DefaultLimit},
	}
	for _, tc := range cases {
		t.Setenv("LLM_CONCURRENCY", tc.value)
		if got := LimitFromEnv(); got != tc.want {
			t.Errorf("LimitFromEnv(%q) = %d, want %d", tc.value, got, tc.want)
		}
	}
}
