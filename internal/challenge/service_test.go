package challenge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, handler http.Handler) *SolveService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSolveService("2captcha", "test-key", srv.URL, 10*time.Millisecond, zap.NewNop())
}

func TestSolveServiceUnavailableWithoutKey(t *testing.T) {
	s := NewSolveService("2captcha", "", "", time.Second, zap.NewNop())
	assert.False(t, s.Available())
}

func TestSolveServiceSupports(t *testing.T) {
	s := NewSolveService("2captcha", "k", "", time.Second, zap.NewNop())
	assert.True(t, s.Supports(TypeRecaptchaV2))
	assert.True(t, s.Supports(TypeFunCaptcha))
	assert.False(t, s.Supports(TypeImage))
	assert.False(t, s.Supports(TypeRecaptchaV3))
}

func TestSolveSubmitsAndPolls(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-key", r.Form.Get("key"))
		assert.Equal(t, "userrecaptcha", r.Form.Get("method"))
		assert.Equal(t, "6LcKey", r.Form.Get("googlekey"))
		assert.Equal(t, "https://example.com/apply", r.Form.Get("pageurl"))
		fmt.Fprint(w, `{"status":1,"request":"task-42"}`)
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "task-42", r.URL.Query().Get("id"))
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
			return
		}
		fmt.Fprint(w, `{"status":1,"request":"solved-token"}`)
	})

	s := newTestService(t, mux)
	c := &Challenge{ID: "c1", Type: TypeRecaptchaV2, SiteKey: "6LcKey", PageURL: "https://example.com/apply"}

	token, err := s.Solve(context.Background(), c, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "solved-token", token)
	assert.Equal(t, 3, polls)
}

func TestSolveFunCaptchaCarriesServiceURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "funcaptcha", r.Form.Get("method"))
		assert.Equal(t, "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9", r.Form.Get("publickey"))
		assert.Equal(t, "https://lever-api.arkoselabs.com", r.Form.Get("surl"))
		fmt.Fprint(w, `{"status":1,"request":"task-7"}`)
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":1,"request":"fc-solved"}`)
	})

	s := newTestService(t, mux)
	c := &Challenge{
		ID:         "c2",
		Type:       TypeFunCaptcha,
		SiteKey:    "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9",
		PageURL:    "https://jobs.lever.co/acme/apply",
		ServiceURL: "https://lever-api.arkoselabs.com",
	}

	token, err := s.Solve(context.Background(), c, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fc-solved", token)
}

func TestSolveRejectedTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"request":"ERROR_WRONG_USER_KEY"}`)
	})

	s := newTestService(t, mux)
	c := &Challenge{ID: "c3", Type: TypeHCaptcha, SiteKey: "hk", PageURL: "https://example.com"}

	_, err := s.Solve(context.Background(), c, time.Second)
	require.Error(t, err)
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Message, "ERROR_WRONG_USER_KEY")
}

func TestSolveServiceErrorDuringPoll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":1,"request":"task-9"}`)
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`)
	})

	s := newTestService(t, mux)
	c := &Challenge{ID: "c4", Type: TypeTurnstile, SiteKey: "tk", PageURL: "https://example.com"}

	_, err := s.Solve(context.Background(), c, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_CAPTCHA_UNSOLVABLE")
}

func TestSolveTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":1,"request":"task-10"}`)
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
	})

	s := newTestService(t, mux)
	c := &Challenge{ID: "c5", Type: TypeRecaptchaV2, SiteKey: "k", PageURL: "https://example.com"}

	_, err := s.Solve(context.Background(), c, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestSolveCancellable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":1,"request":"task-11"}`)
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
	})

	s := newTestService(t, mux)
	c := &Challenge{ID: "c6", Type: TypeRecaptchaV2, SiteKey: "k", PageURL: "https://example.com"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := s.Solve(ctx, c, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSolveMissingSiteKey(t *testing.T) {
	s := NewSolveService("2captcha", "k", "", time.Second, zap.NewNop())
	c := &Challenge{ID: "c7", Type: TypeRecaptchaV2, PageURL: "https://example.com"}
	_, err := s.Solve(context.Background(), c, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no site key")
}
