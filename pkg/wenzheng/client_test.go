package wenzheng

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wzwatch/wenzheng-cli/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
		OnRetry:        func(int, error) {},
	}
}

func envelopeJSON(code int, msg string, data string) string {
	if data == "" {
		data = "null"
	}
	return fmt.Sprintf(`{"code": %d, "msg": %q, "data": %s}`, code, msg, data)
}

func TestProvinceTree(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, envelopeJSON(0, "ok", `[
			{"id": 51, "name": "四川省", "type": "PROVINCE", "has_children": true,
			 "origin_id": "sc", "children": [
				{"id": 5101, "name": "成都市", "type": "CITY", "has_children": true}
			]}
		]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(1)))

	forest, err := c.ProvinceTree(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "/org/province_tree", gotPath)
	require.Len(t, forest, 1)

	prov := forest[0]
	assert.Equal(t, "51", prov.ID, "numeric ids fold to strings")
	assert.Equal(t, "四川省", prov.Name)
	assert.Equal(t, "PROVINCE", prov.Type)
	assert.True(t, prov.HasChildren)
	assert.Equal(t, "sc", prov.Extra["origin_id"], "unmodeled keys survive in Extra")
	require.Len(t, prov.Children, 1)
	assert.Equal(t, "5101", prov.Children[0].ID)
}

func TestCityTree(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		// A single node, not an array: the client must still return a forest.
		fmt.Fprint(w, envelopeJSON(0, "ok", `
			{"id": 5101, "name": "成都市", "type": "CITY", "children": [
				{"id": 510104, "name": "锦江区", "type": "AREA"}
			]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(1)))

	forest, err := c.CityTree(t.Context(), "5101")
	require.NoError(t, err)
	assert.Equal(t, float64(5101), gotBody["cityId"], "city id goes up as a number")
	require.Len(t, forest, 1)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, "510104", forest[0].Children[0].ID)
}

func TestThreadPage(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, envelopeJSON(0, "ok", `{
			"records": [{"id": 1, "title": "a"}, {"id": 2, "title": "b"}],
			"total": 47
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(1)))

	page, err := c.ThreadPage(t.Context(), "5101", 2, 20)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 47, page.Total)

	// The payload matches what the board's own web client sends.
	assert.Equal(t, float64(5101), gotBody["assign_organization_id"])
	assert.Equal(t, float64(2), gotBody["page"])
	assert.Equal(t, float64(20), gotBody["size"])
	assert.Equal(t, true, gotBody["need_total"])
	assert.Equal(t, "", gotBody["reply_status"])
	v, present := gotBody["sort_id"]
	assert.True(t, present)
	assert.Nil(t, v, "sort_id stays null")
}

func TestThreadPage_NonNumericOrgID(t *testing.T) {
	t.Parallel()

	c := NewClient(WithRateLimit(1000, 1000), WithRetry(fastRetry(1)))
	_, err := c.ThreadPage(t.Context(), "not-a-number", 1, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, envelopeJSON(0, "ok", `[]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(3)))

	_, err := c.ProvinceTree(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(3)))

	_, err := c.ProvinceTree(t.Context())
	require.Error(t, err)
	assert.Equal(t, 3, calls, "transient statuses burn every attempt")
	assert.True(t, resilience.IsTransient(err))
}

func TestNoRetry_OnEnvelopeError(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, envelopeJSON(500101, "组织不存在", ""))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(3)))

	_, err := c.ThreadPage(t.Context(), "404404", 1, 20)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "envelope errors are terminal")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500101, apiErr.Code)
	assert.Contains(t, apiErr.Msg, "组织不存在")
}

func TestNoRetry_On4xx(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000), WithRetry(fastRetry(3)))

	_, err := c.ProvinceTree(t.Context())
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestBreaker_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewBreaker(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour})
	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000, 1000),
		WithRetry(fastRetry(1)), WithBreaker(cb))

	// Two failed calls open the breaker.
	_, err := c.ProvinceTree(t.Context())
	require.Error(t, err)
	_, err = c.ProvinceTree(t.Context())
	require.Error(t, err)
	require.Equal(t, 2, calls)

	// The third is refused before it reaches the server.
	_, err = c.ProvinceTree(t.Context())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestRateLimit_SequentialFloor(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envelopeJSON(0, "ok", `[]`))
	}))
	defer srv.Close()

	// 2 req/s with burst 1: the third call cannot complete before ~1s.
	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(2, 1), WithRetry(fastRetry(1)))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.ProvinceTree(t.Context())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRateLimit_SharedAcrossConcurrentCallers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		fmt.Fprint(w, envelopeJSON(0, "ok", `[]`))
	}))
	defer srv.Close()

	const rps = 10
	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(rps, 1), WithRetry(fastRetry(1)))

	g, ctx := errgroup.WithContext(t.Context())
	for i := 0; i < 15; i++ {
		g.Go(func() error {
			_, err := c.ProvinceTree(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, hits, 15)

	// No sliding one-second window may hold more than burst + rps arrivals.
	mu.Lock()
	defer mu.Unlock()
	sort.Slice(hits, func(i, j int) bool { return hits[i].Before(hits[j]) })
	for i := range hits {
		inWindow := 0
		for j := i; j < len(hits); j++ {
			if hits[j].Sub(hits[i]) <= time.Second {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, rps+1,
			"window starting at hit %d holds %d arrivals", i, inWindow)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("访问被拒绝", 20)
	got := truncate(long, 200)
	assert.True(t, utf8.ValidString(got), "cut must not split a rune")
	// 200 lands mid-rune; the cut backs up to the previous boundary.
	assert.Equal(t, 198, len(got))

	assert.Equal(t, "短消息", truncate("短消息", 200))
}
