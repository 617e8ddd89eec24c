package xapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// recordingBackoff records the waits the policy asks for and sleeps only
// briefly instead.
type recordingBackoff struct {
	waits []time.Duration
}

func newTestRetry(policy RetryPolicy, now func() time.Time) (*http.Client, *recordingBackoff) {
	rec := &recordingBackoff{}
	rc := newRetryClient(nil, policy, now)
	backoff := rc.Backoff
	rc.Backoff = func(lo, hi time.Duration, attempt int, resp *http.Response) time.Duration {
		rec.waits = append(rec.waits, backoff(lo, hi, attempt, resp))
		return time.Millisecond
	}
	return rc.StandardClient(), rec
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 300 * time.Millisecond},
		{2, 600 * time.Millisecond},
		{3, 1200 * time.Millisecond},
		{4, 2400 * time.Millisecond},
		{5, 4 * time.Second},
		{9, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client, rec := newTestRetry(DefaultRetryPolicy(), nil)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || calls != 3 {
		t.Errorf("status = %d after %d calls, want 200 after 3", resp.StatusCode, calls)
	}
	if len(rec.waits) != 2 {
		t.Fatalf("waits = %v, want 2", rec.waits)
	}
	for i, w := range rec.waits {
		base := DefaultRetryPolicy().Backoff(i + 1)
		if w < base || w >= base+120*time.Millisecond {
			t.Errorf("wait[%d] = %v, want in [%v, %v)", i, w, base, base+120*time.Millisecond)
		}
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := newTestRetry(DefaultRetryPolicy(), nil)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway || calls != 4 {
		t.Errorf("status = %d after %d calls, want 502 after 4", resp.StatusCode, calls)
	}
}

func TestRetry_DoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, rec := newTestRetry(DefaultRetryPolicy(), nil)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if calls != 1 || len(rec.waits) != 0 {
		t.Errorf("calls = %d, waits = %v; want 1 call, no waits", calls, rec.waits)
	}
}

func TestRetry_RateLimitHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name   string
		header map[string]string
		want   time.Duration
	}{
		{"reset in future", map[string]string{"x-rate-limit-reset": strconv.FormatInt(now.Unix()+7, 10)}, 8 * time.Second},
		{"retry-after", map[string]string{"retry-after": "3"}, 3 * time.Second},
		{"reset in past falls back to retry-after", map[string]string{
			"x-rate-limit-reset": strconv.FormatInt(now.Unix()-5, 10),
			"retry-after":        "2",
		}, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 1 {
					for k, v := range tt.header {
						w.Header().Set(k, v)
					}
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			client, rec := newTestRetry(DefaultRetryPolicy(), func() time.Time { return now })

			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if len(rec.waits) != 1 || rec.waits[0] != tt.want {
				t.Errorf("waits = %v, want [%v]", rec.waits, tt.want)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newRetryClient(nil, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil).StandardClient()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err := client.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want deadline exceeded", err)
	}
}

func TestRetry_ReplaysRequestBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestRetry(DefaultRetryPolicy(), nil)
	resp, err := client.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader("grant_type=refresh_token"))
	if err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != "grant_type=refresh_token" {
		t.Errorf("bodies = %q, want the same form sent twice", bodies)
	}
}
