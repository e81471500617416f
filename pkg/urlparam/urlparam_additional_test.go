package urlparam_test

import (
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/urlsync"
	"github.com/vango-dev/urlsync/internal/clock"
	"github.com/vango-dev/urlsync/pkg/adapter"
	"github.com/vango-dev/urlsync/pkg/urlparam"
)

func mount(t *testing.T, raw string) (*urlsync.Syncer, *adapter.Memory, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	m, err := adapter.NewMemory(raw, adapter.WithMemoryClock(c))
	if err != nil {
		t.Fatal(err)
	}
	s := urlsync.Mount(m, urlsync.WithClock(c))
	t.Cleanup(func() {
		s.Unmount()
		m.Close()
	})
	return s, m, c
}

func TestParamsShareOneFlush(t *testing.T) {
	s, m, c := mount(t, "/search")
	q := urlparam.New(s, "q", urlparam.String(), "")
	page := urlparam.New(s, "page", urlparam.Int(), 1, urlparam.Push, urlparam.ClearOnDefault)

	q.Set("gophers")
	page.Set(2)
	page.Update(func(p int) int { return p + 1 })

	if page.Get() != 3 || q.Get() != "gophers" {
		t.Errorf("optimistic read: page=%d q=%q", page.Get(), q.Get())
	}
	if m.Updates() != 0 {
		t.Fatal("no flush before the timer fires")
	}

	c.Advance(0)
	if m.Updates() != 1 {
		t.Fatalf("Updates: got %d, want 1", m.Updates())
	}
	if got := m.URL(); got != "/search?q=gophers&page=3" {
		t.Errorf("URL: %q", got)
	}
	// page asked for push, so the whole batch pushed.
	if cur, _ := m.History().Current(); cur.Mode != adapter.Push {
		t.Errorf("mode: %v", cur.Mode)
	}

	page.Set(1)
	c.Advance(100 * time.Millisecond)
	if got := m.URL(); got != "/search?q=gophers" {
		t.Errorf("URL after default: %q", got)
	}
}

func TestParamFollowsBackNavigation(t *testing.T) {
	s, m, c := mount(t, "/p?page=1")
	page := urlparam.New(s, "page", urlparam.Int(), 1, urlparam.Push)

	page.Set(2)
	c.Advance(0)
	if page.Get() != 2 {
		t.Fatalf("page: %d", page.Get())
	}

	m.Back()
	if page.Get() != 1 {
		t.Errorf("page after Back: %d", page.Get())
	}
}

type filters struct {
	Category string `url:"cat"`
	SortBy   string `url:"sort"`
	Page     int
	Internal string `url:"-"`
	hidden   string
}

func TestFlatReadsFields(t *testing.T) {
	s, _, _ := mount(t, "/list?cat=tech&sort=date&page=abc&internal=x")
	f := urlparam.NewFlat(s, filters{Page: 1})

	got := f.Get()
	want := filters{Category: "tech", SortBy: "date", Page: 1}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	keys := f.Keys()
	if len(keys) != 3 || keys[0] != "cat" || keys[1] != "sort" || keys[2] != "page" {
		t.Errorf("Keys: %v", keys)
	}
}

func TestFlatSetIsOneBatch(t *testing.T) {
	s, m, c := mount(t, "/list?cat=old&page=9")
	f := urlparam.NewFlat(s, filters{})

	f.Set(filters{SortBy: "price", Page: 2, Internal: "never"})
	c.Advance(0)

	if m.Updates() != 1 {
		t.Errorf("Updates: %d", m.Updates())
	}
	// cat is zero, so it is removed; Internal is never written.
	if got := m.URL(); got != "/list?page=2&sort=price" {
		t.Errorf("URL: %q", got)
	}

	f.Reset()
	c.Advance(100 * time.Millisecond)
	if got := m.URL(); got != "/list" {
		t.Errorf("URL after Reset: %q", got)
	}
}

func TestFlatUpdate(t *testing.T) {
	s, _, _ := mount(t, "/list?page=2")
	f := urlparam.NewFlat(s, filters{})
	f.Update(func(v filters) filters {
		v.Page++
		return v
	})
	if f.Get().Page != 3 {
		t.Errorf("Page: %d", f.Get().Page)
	}
}

func TestFlatUpdateComposesWithConcurrentWriters(t *testing.T) {
	s, _, _ := mount(t, "/list")
	f := urlparam.NewFlat(s, filters{})
	page := urlparam.New(s, "page", urlparam.Int(), 0)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.Update(func(v filters) filters {
				time.Sleep(time.Microsecond)
				v.Page++
				return v
			})
		}()
		go func() {
			defer wg.Done()
			page.Update(func(p int) int { return p + 1 })
		}()
	}
	wg.Wait()

	if got := page.Get(); got != 2*n {
		t.Errorf("page: got %d, want %d", got, 2*n)
	}
}

func TestFlatUpdateKeepsOtherFields(t *testing.T) {
	s, m, c := mount(t, "/list?cat=tech&page=1")
	f := urlparam.NewFlat(s, filters{})

	f.Update(func(v filters) filters {
		v.SortBy = "date"
		return v
	})
	c.Advance(0)
	if got := m.URL(); got != "/list?cat=tech&page=1&sort=date" {
		t.Errorf("URL: %q", got)
	}
}

func TestNewFlatRejectsNonStruct(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	urlparam.NewFlat(urlparam.GroupStore(nil), 5)
}
