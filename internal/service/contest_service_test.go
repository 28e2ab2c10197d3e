package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorepeers/settlement/internal/domain"
)

type viewCache struct {
	views map[string]domain.ContestView
	sets  int
}

func (c *viewCache) Set(_ context.Context, v domain.ContestView) error {
	c.views[v.Contest.ID] = v
	c.sets++
	return nil
}

func (c *viewCache) Get(_ context.Context, id string) (domain.ContestView, error) {
	v, ok := c.views[id]
	if !ok {
		return domain.ContestView{}, domain.ErrNotFound
	}
	return v, nil
}

func (c *viewCache) Invalidate(_ context.Context, id string) error {
	delete(c.views, id)
	return nil
}

func newContestService(m *memStore) *ContestService {
	return NewContestService(m, testAuth(), memContests{m}, memProps{m}, m, m, testLogger())
}

func TestCreatePropAndContest(t *testing.T) {
	m := newMemStore()
	svc := newContestService(m)
	ctx := context.Background()

	p1, err := svc.CreateProp(ctx, CreatePropRequest{FightID: "f1", Subject: "Jones", Category: "strikes", Line: 40.5, ActorID: admin})
	require.NoError(t, err)
	p2, err := svc.CreateProp(ctx, CreatePropRequest{FightID: "f1", Subject: "Jones", Category: "takedowns", Line: 1.5, ActorID: admin})
	require.NoError(t, err)

	c, err := svc.CreateContest(ctx, CreateContestRequest{
		Title:         "UFC 300 main card",
		Currency:      domain.CurrencyCash,
		EntryFee:      2500,
		ProcessingFee: 500,
		MaxPlayers:    2,
		EventStartsAt: time.Now().Add(24 * time.Hour),
		PropIDs:       []string{p1.ID, p2.ID},
		ActorID:       admin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AdminAvailable, c.AdminStatus)
	assert.Equal(t, domain.PlayerAvailable, c.PlayerStatus)
	assert.Zero(t, c.PrizePool)

	stored := m.contest(c.ID)
	assert.Equal(t, []string{p1.ID, p2.ID}, stored.PropIDs)

	events := []string{}
	for _, a := range m.snapshot().audit {
		events = append(events, a.Event)
	}
	assert.Equal(t, []string{"prop.created", "prop.created", "contest.created"}, events)
}

func TestCreateContest_Validation(t *testing.T) {
	m := newMemStore()
	m.seedProp(domain.Prop{ID: "o1", Line: 1.5})
	resolved := 3.0
	m.seedProp(domain.Prop{ID: "done", Line: 1.5, OutcomeValue: &resolved})
	svc := newContestService(m)

	valid := CreateContestRequest{
		Title: "t", Currency: domain.CurrencyCoins, MaxPlayers: 2,
		EventStartsAt: time.Now(), PropIDs: []string{"o1"}, ActorID: admin,
	}
	cases := map[string]func(r *CreateContestRequest){
		"no title":          func(r *CreateContestRequest) { r.Title = " " },
		"bad currency":      func(r *CreateContestRequest) { r.Currency = "gems" },
		"negative fee":      func(r *CreateContestRequest) { r.EntryFee = -1 },
		"one player":        func(r *CreateContestRequest) { r.MaxPlayers = 1 },
		"no start":          func(r *CreateContestRequest) { r.EventStartsAt = time.Time{} },
		"empty card":        func(r *CreateContestRequest) { r.PropIDs = nil },
		"duplicate prop":    func(r *CreateContestRequest) { r.PropIDs = []string{"o1", "o1"} },
		"unknown prop":      func(r *CreateContestRequest) { r.PropIDs = []string{"o1", "zz"} },
		"already resolved":  func(r *CreateContestRequest) { r.PropIDs = []string{"done"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			_, err := svc.CreateContest(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidContest)
		})
	}

	_, err := svc.CreateContest(context.Background(), CreateContestRequest{ActorID: "viewer"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.CreateProp(context.Background(), CreatePropRequest{FightID: "f", Subject: "s", ActorID: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidProp)
}

func TestCreateProp_LineMustBeHalfStep(t *testing.T) {
	svc := newContestService(newMemStore())

	cases := []struct {
		line float64
		ok   bool
	}{
		{line: 45.5, ok: true},
		{line: 0.5, ok: true},
		{line: -0.5, ok: true},
		{line: 45, ok: false},
		{line: 0, ok: false},
		{line: 45.25, ok: false},
		{line: 45.75, ok: false},
		{line: math.NaN(), ok: false},
		{line: math.Inf(1), ok: false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.line), func(t *testing.T) {
			_, err := svc.CreateProp(context.Background(), CreatePropRequest{
				FightID: "f1", Subject: "Jones", Category: "strikes", Line: tc.line, ActorID: admin,
			})
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidProp)
		})
	}
}

func TestContestService_GetUsesCache(t *testing.T) {
	m := newMemStore()
	seedCard(m)
	seedContest(m, "c1", domain.AdminReady, 20000, 3, 1)
	cache := &viewCache{views: map[string]domain.ContestView{}}
	svc := newContestService(m).WithCache(cache)
	ctx := context.Background()

	v, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, v.Entries, 2)
	assert.Equal(t, 1, cache.sets)

	_, err = svc.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "second read is served from cache")

	_, err = svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContestService_StandingsPreviewDoesNotMutate(t *testing.T) {
	m := newMemStore()
	seedCard(m)
	seedContest(m, "c1", domain.AdminReady, 20000, 3, 1)
	before := m.snapshot()

	plan, err := newContestService(m).Standings(context.Background(), "c1", domain.WinnerSelection{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1-e1"}, plan.WinnerIDs)
	assert.Equal(t, domain.Amount(20000), plan.Total)

	after := m.snapshot()
	assert.Equal(t, before.entries, after.entries)
	assert.Equal(t, before.contests, after.contests)
	assert.Zero(t, m.txs)
}

func TestContestService_AuditLogGate(t *testing.T) {
	m := newMemStore()
	seedCard(m)
	seedContest(m, "c1", domain.AdminReady, 20000, 3, 1)
	h := NewSettlementService(m, testAuth(), nil, SettlementConfig{}, testLogger())
	_, err := h.Settle(context.Background(), SettleRequest{ContestID: "c1", ActorID: admin})
	require.NoError(t, err)

	svc := newContestService(m)
	rows, err := svc.AuditLog(context.Background(), "viewer", "c1", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "contest.settled", rows[0].Event)

	_, err = svc.AuditLog(context.Background(), "stranger", "", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	accts, err := svc.Balances(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, domain.Amount(20000), accts[0].Balance)

	_, err = svc.Receipt(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
