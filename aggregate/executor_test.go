package aggregate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneshas/eventlog"
	"github.com/aneshas/eventlog/aggregate"
)

func newAccount() *account { return &account{} }

func TestShould_Load_And_Persist_Aggregate(t *testing.T) {
	es := eventStore(t)
	store := aggregate.NewStore[*account](es)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, openAccount("acc-1", "john")))

	exec := aggregate.NewExecutor(store, newAccount)

	err := exec(ctx, "acc-1", func(_ context.Context, acc *account) error {
		acc.deposit(20)

		return nil
	})
	require.NoError(t, err)

	stored, err := es.ReadStreamForwards(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.Equal(t, DepositMade{Amount: 20}, stored[1].Body)
	assert.Equal(t, 2, stored[1].EventNumber)
}

func TestShould_Not_Save_When_Command_Fails(t *testing.T) {
	es := eventStore(t)
	store := aggregate.NewStore[*account](es)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, openAccount("acc-1", "john")))

	wantErr := errors.New("insufficient funds")

	err := aggregate.Exec(ctx, store, "acc-1", newAccount(), func(_ context.Context, acc *account) error {
		acc.deposit(20)

		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)

	stored, err := es.ReadStreamForwards(ctx, "acc-1")
	require.NoError(t, err)

	assert.Len(t, stored, 1)
}

func TestShould_Report_AggregateNotFound_Error(t *testing.T) {
	exec := aggregate.NewExecutor(aggregate.NewStore[*account](eventStore(t)), newAccount)

	err := exec(context.Background(), "acc-1", func(_ context.Context, acc *account) error {
		acc.deposit(1)

		return nil
	})

	assert.ErrorIs(t, err, aggregate.ErrAggregateNotFound)
}

func TestShould_Rerun_Command_After_Losing_Race(t *testing.T) {
	es := eventStore(t)
	store := aggregate.NewStore[*account](es)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, openAccount("acc-1", "john")))

	exec := aggregate.NewExecutor(store, newAccount, aggregate.WithConflictRetries(1))

	var (
		runs     int
		balances []int
	)

	err := exec(ctx, "acc-1", func(ctx context.Context, acc *account) error {
		runs++
		balances = append(balances, acc.Balance)

		if runs == 1 {
			// a concurrent writer commits between load and save
			var other account

			require.NoError(t, store.ByID(ctx, "acc-1", &other))

			other.deposit(5)

			require.NoError(t, store.Save(ctx, &other))
		}

		acc.deposit(10)

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, runs)
	assert.Equal(t, []int{0, 5}, balances)

	var loaded account

	require.NoError(t, store.ByID(ctx, "acc-1", &loaded))

	assert.Equal(t, 15, loaded.Balance)
	assert.Equal(t, 3, loaded.Version())
}

func TestShould_Give_Up_After_Conflict_Retries(t *testing.T) {
	es := eventStore(t)
	store := aggregate.NewStore[*account](es)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, openAccount("acc-1", "john")))

	exec := aggregate.NewExecutor(store, newAccount)

	err := exec(ctx, "acc-1", func(ctx context.Context, acc *account) error {
		var other account

		require.NoError(t, store.ByID(ctx, "acc-1", &other))

		other.deposit(5)

		require.NoError(t, store.Save(ctx, &other))

		acc.deposit(10)

		return nil
	})

	assert.ErrorIs(t, err, eventlog.ErrConcurrencyCheckFailed)
}
