package coordinatord

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aodhgan/closest-number/coordinator"
	"github.com/aodhgan/closest-number/game"
)

type stubService struct {
	snapshot  coordinator.Snapshot
	submitFn  func(ctx context.Context, player, guess string, auth coordinator.Authorization) (coordinator.SubmitResult, error)
	resetErr  error
	lastBuyIn *big.Int
}

func (s *stubService) SubmitGuess(ctx context.Context, player, guess string, auth coordinator.Authorization) (coordinator.SubmitResult, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, player, guess, auth)
	}
	return coordinator.SubmitResult{Snapshot: s.snapshot}, nil
}

func (s *stubService) PublicState() coordinator.Snapshot           { return s.snapshot }
func (s *stubService) ResetRound(ctx context.Context) error        { return s.resetErr }
func (s *stubService) Close(ctx context.Context) error             { return nil }
func (s *stubService) RetrySettlement(ctx context.Context) error   { return nil }
func (s *stubService) PushBuyIn(ctx context.Context) error         { return nil }
func (s *stubService) Open(ctx context.Context, b *big.Int) error  { s.lastBuyIn = b; return nil }
func (s *stubService) Withdraw(ctx context.Context, r string, a *big.Int) error {
	return nil
}

func newTestServer(svc *stubService, opts ...func(*ServerConfig)) *Server {
	cfg := ServerConfig{Service: svc}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewServer(cfg)
}

func postGuess(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/guess", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoundSnapshotEndpoint(t *testing.T) {
	svc := &stubService{snapshot: coordinator.Snapshot{
		State:   coordinator.StateActive,
		RoundID: 7,
		BuyIn:   big.NewInt(1_000_000),
		Pot:     big.NewInt(3_000_000),
	}}
	srv := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/round", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["roundId"] != float64(7) {
		t.Fatalf("roundId = %v", got["roundId"])
	}
	if got["state"] != "active" {
		t.Fatalf("state = %v", got["state"])
	}
}

func TestGuessErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &coordinator.ValidationError{Reason: "bad guess"}, http.StatusBadRequest},
		{"authorization", &coordinator.AuthorizationError{Reason: "bad signature"}, http.StatusUnauthorized},
		{"replay", &coordinator.ReplayError{Payer: "0xabc", Nonce: "n"}, http.StatusConflict},
		{"chain", &coordinator.ChainError{Op: "payForGuess", Err: context.Canceled}, http.StatusBadGateway},
		{"timeout", &coordinator.ChainError{Op: "payForGuess", Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"no signer", &coordinator.ConfigError{Field: "signer key"}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{submitFn: func(context.Context, string, string, coordinator.Authorization) (coordinator.SubmitResult, error) {
				return coordinator.SubmitResult{}, tc.err
			}}
			rec := postGuess(t, newTestServer(svc), guessRequest{Player: "0xabc", Guess: "1234"})
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Fatal("missing error message")
			}
		})
	}
}

func TestGuessSuccessReturnsResult(t *testing.T) {
	svc := &stubService{submitFn: func(_ context.Context, player, guess string, _ coordinator.Authorization) (coordinator.SubmitResult, error) {
		return coordinator.SubmitResult{
			Record:  game.GuessRecord{Player: player, Guess: guess, Hint: "0/4 digits in place"},
			Payment: coordinator.PaymentResult{RoundID: 3, Amount: big.NewInt(1_000_000)},
		}, nil
	}}
	rec := postGuess(t, newTestServer(svc), guessRequest{Player: "0xabc", Guess: "1234"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result coordinator.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Record.Guess != "1234" {
		t.Fatalf("guess = %q", result.Record.Guess)
	}
	if result.Payment.RoundID != 3 {
		t.Fatalf("payment round = %d", result.Payment.RoundID)
	}
}

func TestGuessRateLimited(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(svc, func(cfg *ServerConfig) {
		cfg.Limiter = newPlayerLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	})
	body := guessRequest{Player: "0xabc", Guess: "1234"}
	if rec := postGuess(t, srv, body); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := postGuess(t, srv, body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
}

func TestAdminRequiresBearerToken(t *testing.T) {
	svc := &stubService{snapshot: coordinator.Snapshot{State: coordinator.StateActive}}
	auth := NewAdminAuth(AdminConfig{JWTSecret: "test-secret", Issuer: "ops"})
	srv := newTestServer(svc, func(cfg *ServerConfig) { cfg.Auth = auth })

	req := httptest.NewRequest(http.MethodPost, "/admin/reset", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	claims := jwt.MapClaims{
		"sub": "operator",
		"iss": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/admin/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Wrong key fails verification.
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/admin/reset", nil)
	req.Header.Set("Authorization", "Bearer "+badToken)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged status = %d, want 401", rec.Code)
	}
}

func TestAdminOpenParsesBuyIn(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(svc)
	payload := bytes.NewReader([]byte(`{"buyIn":"5000000"}`))
	req := httptest.NewRequest(http.MethodPost, "/admin/open", payload)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.lastBuyIn == nil || svc.lastBuyIn.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("buy-in = %v", svc.lastBuyIn)
	}

	// Empty body means the configured default.
	svc.lastBuyIn = big.NewInt(1)
	req = httptest.NewRequest(http.MethodPost, "/admin/open", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastBuyIn != nil {
		t.Fatalf("buy-in = %v, want nil", svc.lastBuyIn)
	}
}

func TestArchivedRoundNotConfigured(t *testing.T) {
	srv := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/rounds/3", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
