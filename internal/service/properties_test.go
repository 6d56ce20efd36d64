package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/queue"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

func TestConcurrentReserveSameSeatHasOneWinner(t *testing.T) {
	for _, n := range []int{2, 16, 64} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			h := newHarness(t)
			var wins, conflicts, other int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := h.reserve(t, "T2", []string{"12B"}, pax(fmt.Sprintf("p%d", i), ""))
					switch {
					case err == nil:
						atomic.AddInt32(&wins, 1)
					case errors.Is(err, service.ErrConflict):
						atomic.AddInt32(&conflicts, 1)
					default:
						atomic.AddInt32(&other, 1)
					}
				}(i)
			}
			close(start)
			wg.Wait()
			assert.Equal(t, int32(1), wins)
			assert.Equal(t, int32(n-1), conflicts)
			assert.Zero(t, other)
			assert.Equal(t, []string{"12B"}, h.unavailable(t, "T2"))
		})
	}
}

func TestOverlappingMultiSeatRequestsNeverSplitSeats(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	results := make([]*service.ReservationResult, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seats := []string{"3", "4"}
			if i%2 == 1 {
				seats = []string{"4", "3"}
			}
			res, _ := h.reserve(t, "T2", seats, pax("a", ""), pax("b", ""))
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r != nil {
			winners++
			assert.Len(t, r.HoldIDs, 2)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, []string{"3", "4"}, h.unavailable(t, "T2"))
}

func TestReserveIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.reserve(t, "T2", []string{"3"}, pax("first", ""))
	require.NoError(t, err)

	_, err = h.reserve(t, "T2", []string{"1", "2", "3", "4"},
		pax("a", ""), pax("b", ""), pax("c", ""), pax("d", ""))
	var ce *service.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, service.ReasonSeatTaken, ce.Reason)
	assert.Equal(t, "3", ce.SeatLabel)

	assert.Equal(t, []string{"3"}, h.unavailable(t, "T2"))
	res, err := h.reserve(t, "T2", []string{"1", "2", "4"}, pax("x", ""), pax("y", ""), pax("z", ""))
	require.NoError(t, err)
	assert.Len(t, res.HoldIDs, 3)
}

func TestSweeperReclaimsLapsedHoldButNotConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lapsing, err := h.reserve(t, "T2", []string{"1"}, pax("late", ""))
	require.NoError(t, err)
	kept, err := h.reserve(t, "T2", []string{"2"}, pax("paid", ""))
	require.NoError(t, err)
	require.NoError(t, h.engine.AttachOrder(ctx, kept.HoldIDs, kept.HolderToken, "O-9"))
	require.NoError(t, h.engine.OnOrderStatusChanged(ctx, queue.OrderStatusChangedEvent{OrderID: "O-9", NewStatus: "completed"}))

	h.clock.Advance(16 * time.Minute)
	stats, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.HoldsExpired)
	assert.Equal(t, []string{"T2"}, stats.Trips)
	assert.Positive(t, h.cache.invalidated["T2"])

	old, err := h.holds.GetByID(ctx, lapsing.HoldIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.HoldExpired, old.Status)
	assert.Equal(t, []string{"2"}, h.unavailable(t, "T2"))

	_, err = h.reserve(t, "T2", []string{"1"}, pax("next", ""))
	assert.NoError(t, err)

	h.clock.Advance(365 * 24 * time.Hour)
	_, err = h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	confirmed, err := h.holds.GetByID(ctx, kept.HoldIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.HoldConfirmed, confirmed.Status)
	assert.Nil(t, confirmed.ExpiresAt)
}

func TestSweeperDrainsInBatches(t *testing.T) {
	h := newHarness(t)
	for _, s := range []string{"1", "2", "3", "4", "5"} {
		_, err := h.reserve(t, "T2", []string{s}, pax(s, ""))
		require.NoError(t, err)
	}
	h.clock.Advance(time.Hour)
	stats, err := h.sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.HoldsExpired)
	assert.Empty(t, h.unavailable(t, "T2"))
}

func TestCompletedDeliveredTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.reserve(t, "T2", []string{"5", "6"}, pax("a", "X1"), pax("b", "X2"))
	require.NoError(t, err)
	require.NoError(t, h.engine.AttachOrder(ctx, res.HoldIDs, res.HolderToken, "O-1"))

	ev := queue.OrderStatusChangedEvent{OrderID: "O-1", OldStatus: "pending", NewStatus: "completed"}
	require.NoError(t, h.engine.OnOrderStatusChanged(ctx, ev))
	first, err := h.tickets.ListByOrder(ctx, "O-1")
	require.NoError(t, err)
	require.NoError(t, h.engine.OnOrderStatusChanged(ctx, ev))
	second, err := h.tickets.ListByOrder(ctx, "O-1")
	require.NoError(t, err)

	assert.Len(t, second, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.publisher.count(queue.ReservationConfirmedQueue))
}

func TestConcurrentRedeemHasOneSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.reserve(t, "T2", []string{"4"}, pax("a", ""))
	require.NoError(t, err)
	require.NoError(t, h.engine.AttachOrder(ctx, res.HoldIDs, res.HolderToken, "O-2"))
	require.NoError(t, h.engine.OnOrderStatusChanged(ctx, queue.OrderStatusChangedEvent{OrderID: "O-2", NewStatus: "completed"}))
	tickets, err := h.tickets.ListByOrder(ctx, "O-2")
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	var mu sync.Mutex
	outcomes := map[service.RedeemOutcome]int{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := h.gate.Redeem(ctx, tickets[0].TicketCode)
			assert.NoError(t, err)
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, outcomes[service.RedeemSuccess])
	assert.Equal(t, 7, outcomes[service.RedeemAlreadyUsed])
	assert.Equal(t, 1, h.publisher.count(queue.TicketUsedQueue))
}

func TestReserveConfirmIssueRedeemRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.reserve(t, "T2", []string{"6", "5"}, pax("Sara", "P-6"), pax("Omid", "P-5"))
	require.NoError(t, err)
	require.Len(t, res.Holds, 2)
	assert.Equal(t, "5", res.Holds[0].SeatLabel)
	assert.Contains(t, string(res.Holds[0].PassengerSnapshot), "Omid")
	assert.Equal(t, res.ExpiresAt, h.clock.Now().UTC().Add(15*time.Minute))

	require.NoError(t, h.engine.AttachOrder(ctx, res.HoldIDs, res.HolderToken, "O-7"))
	require.NoError(t, h.engine.OnOrderStatusChanged(ctx, queue.OrderStatusChangedEvent{OrderID: "O-7", NewStatus: "completed"}))

	tickets, err := h.tickets.ListByOrder(ctx, "O-7")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.NotEqual(t, tickets[0].TicketCode, tickets[1].TicketCode)
	for _, tk := range tickets {
		assert.Equal(t, model.TicketActive, tk.Status)
		assert.Equal(t, departure, tk.Departure.DepartsAt)

		got, err := h.gate.Lookup(ctx, tk.TicketCode)
		require.NoError(t, err)
		assert.Equal(t, tk.SeatLabel, got.SeatLabel)

		out, used, err := h.gate.Redeem(ctx, tk.TicketCode)
		require.NoError(t, err)
		assert.Equal(t, service.RedeemSuccess, out)
		require.NotNil(t, used.UsedAt)

		out, _, err = h.gate.Redeem(ctx, tk.TicketCode)
		require.NoError(t, err)
		assert.Equal(t, service.RedeemAlreadyUsed, out)
	}
}

func TestOverlappingReservationScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.reserve(t, "T1", []string{"1", "2"}, pax("p1", ""), pax("p2", ""))
	require.NoError(t, err)
	assert.Len(t, first.HoldIDs, 2)
	labels, err := h.engine.ListUnavailable(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, labels)

	_, err = h.reserve(t, "T1", []string{"2", "3"}, pax("p3", ""), pax("p4", ""))
	var ce *service.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "2", ce.SeatLabel)

	labels, err = h.engine.ListUnavailable(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, labels)
	assert.Equal(t, []string{"1", "2"}, h.unavailable(t, "T1"))
}
