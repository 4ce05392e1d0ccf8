package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"offerflow/auth"
	"offerflow/document"
	"offerflow/metrics"
	"offerflow/notify"
	"offerflow/offer"
	"offerflow/property"
	"offerflow/test/actors"
	"offerflow/test/chaos"
	"offerflow/test/infra"
	"offerflow/test/oracles"
	"offerflow/verification"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run the contention soak")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent buyers")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "terminate random backends during the soak")
)

var (
	pool       *pgxpool.Pool
	skipReason string
)

const askingPrice = 500_000

var (
	owner    = auth.Principal{UserID: "owner-1", Role: auth.RoleOwner}
	operator = auth.Principal{UserID: "ops-1", Role: auth.RoleOperator}
	// pngDocument sniffs as image/png.
	pngDocument = append([]byte("\x89PNG\r\n\x1a\n"), []byte("identity document body")...)
)

func TestMain(m *testing.M) {
	flag.Parse()
	rand.Seed(*flSeed)
	os.Exit(runWithDatabase(m))
}

func runWithDatabase(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		pgC *infra.PGContainer
		dsn string
		err error
	)
	shared := *flDSN != "" || os.Getenv("OFFERFLOW_TEST_PG_DSN") != ""
	switch {
	case shared:
		pgC, dsn, err = infra.StartPostgres16(ctx, *flDSN)
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
	default:
		skipReason = "no Postgres: set -dsn or OFFERFLOW_TEST_PG_DSN, or make docker available"
		return m.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer pgC.Terminate(context.Background())

	var teardown func(context.Context) error
	pool, teardown, err = infra.ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		return 1
	}
	defer func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "teardown warning: %v\n", err)
		}
	}()

	return m.Run()
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if pool == nil {
		t.Skip(skipReason)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type scanner struct {
	delay time.Duration
}

func (s scanner) Scan(ctx context.Context, imageURL string) (verification.ScanResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return verification.ScanResult{}, ctx.Err()
	}
	dob := time.Date(1980, time.January, 2, 0, 0, 0, 0, time.UTC)
	exp := time.Date(2100, time.January, 2, 0, 0, 0, 0, time.UTC)
	return verification.ScanResult{
		Confidence: 0.9,
		Fields: verification.Fields{
			FullName:       "Race Buyer",
			Nationality:    "NLD",
			DocumentNumber: "NX1234567",
			DateOfBirth:    &dob,
			DocumentExpiry: &exp,
		},
	}, nil
}

func newService(t *testing.T, clock *actors.Clock, ocrDelay time.Duration) *offer.Service {
	t.Helper()
	secret := []byte("race-test-document-secret")
	docs, err := document.Open(filepath.Join(t.TempDir(), "documents.db"), secret, "http://documents.test")
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	return offer.NewService(
		offer.NewPGStore(pool),
		property.NewService(property.NewRepository(pool), property.Contact{Name: "Listings desk", Email: "listings@example.com"}),
		docs,
		document.NewSigner(secret, "http://documents.test"),
		scanner{delay: ocrDelay},
		offer.Config{OCRTimeout: 5 * time.Second, Operator: notify.Recipient{Name: "Ops", Email: "ops@example.com"}},
		zap.NewNop(),
	).WithClock(clock.Now).WithMetrics(metrics.NewCollector())
}

func seedProperties(t *testing.T, ctx context.Context, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		_, err := pool.Exec(ctx, `
INSERT INTO properties (id, title, price, listing_type, status, allow_offers, owner_user_id, owner_name, owner_email)
VALUES ($1, $2, '$500,000', 'FOR_SALE', 'ACTIVE', TRUE, $3, 'Olive Owner', 'olive@example.com')`,
			id, fmt.Sprintf("Canal House %d", i), owner.UserID)
		require.NoError(t, err, "seed property")
		ids = append(ids, id)
	}
	return ids
}

func buyerN(prefix string, i int) auth.Principal {
	return auth.Principal{UserID: fmt.Sprintf("%s-%d", prefix, i), Role: auth.RoleBuyer}
}

func submitParams(propertyID string, buyer auth.Principal, amount float64) offer.SubmitParams {
	return offer.SubmitParams{
		PropertyID: propertyID,
		Buyer:      buyer,
		Amount:     amount,
		Name:       "Race Buyer",
		Email:      buyer.UserID + "@example.com",
	}
}

func TestConcurrentSubmitsCreateOneOpenOffer(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	svc := newService(t, &actors.Clock{}, 0)
	propertyID := seedProperties(t, ctx, 1)[0]
	buyer := buyerN("dup", rand.Int())

	var created, duplicates atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := svc.Submit(gctx, submitParams(propertyID, buyer, 450_000))
			var r *offer.Rejection
			switch {
			case err == nil:
				created.Add(1)
			case errors.As(err, &r) && r.Reason == offer.ReasonDuplicateOpenOffer:
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(15), duplicates.Load())

	var open int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM offers WHERE property_id = $1 AND buyer_id = $2 AND status IN ('PENDING_DOCUMENT','ACTIVE')`,
		propertyID, buyer.UserID).Scan(&open))
	assert.Equal(t, 1, open)
}

func TestUploadRacingRejectionHasOneOutcome(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	svc := newService(t, &actors.Clock{}, 15*time.Millisecond)
	propertyID := seedProperties(t, ctx, 1)[0]

	for round := 0; round < 12; round++ {
		buyer := buyerN("race", round)
		o, err := svc.Submit(ctx, submitParams(propertyID, buyer, float64(420_000+round*1_000)))
		require.NoError(t, err, "round %d submit", round)

		var uploadErr, rejectErr error
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, uploadErr = svc.UploadDocument(gctx, offer.UploadParams{OfferID: o.ID, Actor: buyer, Data: pngDocument})
			return nil
		})
		g.Go(func() error {
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			_, rejectErr = svc.Reject(gctx, offer.DecisionParams{OfferID: o.ID, Actor: owner, Note: "race"})
			return nil
		})
		require.NoError(t, g.Wait())

		for _, err := range []error{uploadErr, rejectErr} {
			if err != nil {
				require.ErrorIs(t, err, offer.ErrInvalidState, "round %d", round)
			}
		}
		require.False(t, uploadErr != nil && rejectErr != nil, "round %d: both operations lost", round)

		final, err := svc.Get(ctx, o.ID, operator)
		require.NoError(t, err)
		switch {
		case rejectErr == nil:
			assert.Equal(t, offer.StatusRejected, final.Status, "round %d", round)
			if uploadErr != nil {
				assert.Nil(t, final.Identity, "round %d: losing upload must not leave a document", round)
			}
		default:
			assert.Equal(t, offer.StatusActive, final.Status, "round %d", round)
			require.NotNil(t, final.Identity)
		}

		var events int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM offer_events WHERE offer_id = $1`, o.ID).Scan(&events))
		wins := 1
		for _, err := range []error{uploadErr, rejectErr} {
			if err == nil {
				wins++
			}
		}
		assert.Equal(t, wins, events, "round %d: one event per committed change", round)
	}
}

func TestRejectionFloorHoldsAcrossConcurrentSubmits(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	svc := newService(t, &actors.Clock{}, 0)
	propertyID := seedProperties(t, ctx, 1)[0]

	first, err := svc.Submit(ctx, submitParams(propertyID, buyerN("floor", 0), 440_000))
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := svc.Reject(gctx, offer.DecisionParams{OfferID: first.ID, Actor: owner})
		return err
	})
	for i := 1; i <= 10; i++ {
		g.Go(func() error {
			_, err := svc.Submit(gctx, submitParams(propertyID, buyerN("floor", i), float64(430_000+i*1_000)))
			var r *offer.Rejection
			if err != nil && !(errors.As(err, &r) && r.Reason == offer.ReasonOfferPreviouslyRejected) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	name, row, err := oracles.Run(ctx, pool)
	require.NoError(t, err)
	require.Empty(t, name, "oracle %s failed: %s", name, row)
}

func TestOfferWorkflowUnderContention(t *testing.T) {
	requireDatabase(t)
	if testing.Short() {
		t.Skip("contention soak skipped in -short mode")
	}
	seed := *flSeed

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	clock := &actors.Clock{}
	svc := newService(t, clock, 5*time.Millisecond)
	w := &actors.World{
		Offers:            svc,
		PropertyIDs:       seedProperties(t, ctx, 3),
		Owner:             owner,
		Operator:          operator,
		Document:          pngDocument,
		AskingPrice:       askingPrice,
		Stats:             &actors.Stats{},
		TolerateTransient: *flChaos,
	}
	relay := notify.NewRelay(
		notify.NewPGOutbox(pool, 5, 100*time.Millisecond),
		notify.NewDispatcher(zap.NewNop(), metrics.NewCollector()).WithFallback(notify.NewLogSender(zap.NewNop())),
		zap.NewNop(),
		notify.RelayConfig{BatchSize: 20, Workers: 4},
	)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		buyer := buyerN(fmt.Sprintf("soak%d", seed%1000), i)
		g.Go(func() error { return actors.Buyer(ctx2, w, buyer, stop) })
		g.Go(func() error { return actors.Uploader(ctx2, w, buyer, stop) })
	}
	for i := 0; i < 2; i++ {
		g.Go(func() error { return actors.Owner(ctx2, w, stop) })
		g.Go(func() error { return actors.RelayWorker(ctx2, w, relay, stop) })
	}
	g.Go(func() error { return actors.DocumentReader(ctx2, w, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, w, clock, 5*24*time.Hour, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, infra.ApplicationName, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			if !checkOracles(t, ctx2, seed) {
				failed = true
				break loop
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}
	if failed {
		t.FailNow()
	}

	for {
		n, err := relay.RunOnce(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	checkOracles(t, ctx, seed)

	if !*flChaos {
		var pending int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE status IN ('pending','processing')`).Scan(&pending))
		assert.Zero(t, pending, "outbox not drained")
	}

	t.Logf("seed=%d %s", seed, w.Stats)
	assert.Positive(t, w.Stats.Submitted.Load())
}

func checkOracles(t *testing.T, ctx context.Context, seed int64) bool {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		if *flChaos {
			t.Logf("oracle query interrupted: %v", err)
			return true
		}
		t.Errorf("oracle error: %v", err)
		return false
	}
	if name != "" {
		dumpRecent(t, ctx)
		t.Errorf("oracle %s failed. First row: %s (seed=%d)", name, row, seed)
		return false
	}
	return true
}

func dumpRecent(t *testing.T, ctx context.Context) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"offers", `SELECT id, property_id, buyer_id, offer_amount, status, updated_at FROM offers ORDER BY updated_at DESC LIMIT 50`},
		{"offer_events", `SELECT id, offer_id, type, previous_status, next_status, created_at FROM offer_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
		{"document_access_log", `SELECT id, offer_id, viewer_id, viewed_at FROM document_access_log ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
