package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-core/internal/handler"
	"staking-core/internal/service/claim"
	"staking-core/internal/service/observer"
	"staking-core/internal/service/validation"
	"staking-core/internal/staking"
	"staking-core/pkg/errno"
)

const account = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSnapshots struct {
	snaps map[staking.FactKey]observer.Snapshot
}

func (f *fakeSnapshots) Latest(key staking.FactKey) (observer.Snapshot, bool) {
	s, ok := f.snaps[key]
	return s, ok
}

func (f *fakeSnapshots) Snapshots(key staking.AccountKey) []observer.Snapshot {
	var out []observer.Snapshot
	for k, s := range f.snaps {
		if k.AccountKey == key {
			out = append(out, s)
		}
	}
	return out
}

type fakeIngester struct {
	mu      sync.Mutex
	updates []staking.Update
}

func (f *fakeIngester) Ingest(ctx context.Context, u staking.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

// fakeClaims 记录调用参数，返回预设错误
type fakeClaims struct {
	err      error
	key      staking.FactKey
	strategy staking.ClaimStrategy
	amount   decimal.Decimal
	accepted bool
}

func (f *fakeClaims) record(key staking.FactKey, hooks validation.Hooks) (claim.Result, error) {
	f.key = key
	f.accepted = hooks.Confirmer.Confirm(context.Background(), &validation.Violation{})
	return claim.Result{}, f.err
}

func (f *fakeClaims) ClaimRewards(ctx context.Context, key staking.FactKey, strategy staking.ClaimStrategy, hooks validation.Hooks) (claim.Result, error) {
	f.strategy = strategy
	return f.record(key, hooks)
}

func (f *fakeClaims) Redeem(ctx context.Context, key staking.FactKey, hooks validation.Hooks) (claim.Result, error) {
	return f.record(key, hooks)
}

func (f *fakeClaims) BondExtra(ctx context.Context, key staking.FactKey, amount decimal.Decimal, collator string, hooks validation.Hooks) (claim.Result, error) {
	f.amount = amount
	return f.record(key, hooks)
}

func (f *fakeClaims) Unbond(ctx context.Context, key staking.FactKey, amount decimal.Decimal, collator string, hooks validation.Hooks) (claim.Result, error) {
	f.amount = amount
	return f.record(key, hooks)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type fixture struct {
	router *gin.Engine
	facts  *fakeIngester
	claims *fakeClaims
}

func poolKey() staking.FactKey {
	return staking.FactKey{AccountKey: staking.AccountKey{Account: account, Chain: "polkadot"}, Program: staking.NominationPool}
}

func newFixture() *fixture {
	snaps := &fakeSnapshots{snaps: map[staking.FactKey]observer.Snapshot{
		poolKey(): {Key: poolKey(), Kind: staking.KindNominating, Version: 3},
	}}
	f := &fixture{facts: &fakeIngester{}, claims: &fakeClaims{}}
	health := &handler.HealthCheck{Pipes: func() int { return 1 }, InFlight: func() int { return 0 }}
	f.router = NewHTTPRouter(health, handler.NewStakingHandler(snaps, f.facts, f.claims))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealth(t *testing.T) {
	f := newFixture()
	env := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, errno.OK.Code, env.Code)
	assert.Contains(t, string(env.Data), `"pipes":1`)
}

func TestPing(t *testing.T) {
	env := newFixture().do(t, http.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, errno.OK.Code, env.Code)
	assert.Contains(t, string(env.Data), "pong")
}

func TestGetSnapshot(t *testing.T) {
	f := newFixture()

	env := f.do(t, http.MethodGet, "/api/v1/staking/polkadot/pool/"+account, "")
	require.Equal(t, errno.OK.Code, env.Code)
	var snap struct {
		Kind    string `json:"kind"`
		Version uint64 `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, staking.KindNominating.String(), snap.Kind)
	assert.Equal(t, uint64(3), snap.Version)

	env = f.do(t, http.MethodGet, "/api/v1/staking/polkadot/direct/"+account, "")
	assert.Equal(t, errno.ErrNotFound.Code, env.Code)

	env = f.do(t, http.MethodGet, "/api/v1/accounts/polkadot/"+account, "")
	require.Equal(t, errno.OK.Code, env.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestPathValidation(t *testing.T) {
	f := newFixture()
	for _, path := range []string{
		"/api/v1/staking/polkadot/any/" + account,
		"/api/v1/staking/polkadot/savings/" + account,
		"/api/v1/staking/polkadot/pool/15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5",
	} {
		env := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, errno.ErrBind.Code, env.Code, path)
	}
}

func TestIngestFact(t *testing.T) {
	f := newFixture()
	body := `{"account":"` + account + `","chain":"polkadot","program":"pool","kind":"pool_member",
		"payload":{"member":{"pool_id":1,"points":"10","last_recorded_reward_counter":"0"}}}`
	env := f.do(t, http.MethodPost, "/api/v1/facts", body)
	require.Equal(t, errno.OK.Code, env.Code, env.Msg)
	require.Len(t, f.facts.updates, 1)
	assert.Equal(t, poolKey(), f.facts.updates[0].Key)

	env = f.do(t, http.MethodPost, "/api/v1/facts", `{"account":"`+account+`","chain":"polkadot","kind":"weather"}`)
	assert.Equal(t, errno.ErrFactIngestion.Code, env.Code)
	assert.Len(t, f.facts.updates, 1)
}

func TestClaimReportsValidationFailure(t *testing.T) {
	f := newFixture()
	f.claims.err = &validation.Violation{Code: errno.ErrUnprofitable, Validator: "profitable_claim", Reason: "fee 5 > rewards 3"}

	env := f.do(t, http.MethodPost, "/api/v1/staking/polkadot/pool/"+account+"/claim", `{"strategy":"free","accept_warnings":true}`)
	assert.Equal(t, errno.ErrUnprofitable.Code, env.Code)
	assert.Contains(t, env.Msg, "profitable_claim")
	assert.Contains(t, string(env.Data), `"validator":"profitable_claim"`)
	assert.Equal(t, poolKey(), f.claims.key)
	assert.Equal(t, staking.StrategyFree, f.claims.strategy)
	assert.True(t, f.claims.accepted)

	// 空 body: restake，不确认警告
	f.claims.err = errno.Wrapf(errno.ErrActionInFlight, "busy")
	env = f.do(t, http.MethodPost, "/api/v1/staking/polkadot/pool/"+account+"/claim", "")
	assert.Equal(t, errno.ErrActionInFlight.Code, env.Code)
	assert.Equal(t, staking.StrategyRestake, f.claims.strategy)
	assert.False(t, f.claims.accepted)
}

func TestAmountValidation(t *testing.T) {
	f := newFixture()
	f.claims.err = errno.Wrapf(errno.ErrUnbondTooMuch, "too much")
	base := "/api/v1/staking/polkadot/parachain/" + account

	env := f.do(t, http.MethodPost, base+"/bond_extra", `{"amount":"-1"}`)
	assert.Equal(t, errno.ErrBind.Code, env.Code)

	env = f.do(t, http.MethodPost, base+"/bond_extra", `{"amount":"10","collator":"alice"}`)
	assert.Equal(t, errno.ErrBind.Code, env.Code)

	env = f.do(t, http.MethodPost, base+"/unbond", `{"amount":"10","collator":"`+account+`"}`)
	assert.Equal(t, errno.ErrUnbondTooMuch.Code, env.Code)
	assert.True(t, f.claims.amount.Equal(decimal.NewFromInt(10)))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	f.do(t, http.MethodGet, "/health", "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `staking_http_requests_total{method="GET",path="/health",status="200"}`)
}
