package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
	"github.com/Blackdeer1524/txkernel/src/txns"
)

const (
	StressFile   = "stress.tbl"
	startBalance = 1000
)

var ErrBalanceMismatch = errors.New("total balance changed")

type StressOptions struct {
	Accounts int
	Txns     int
	Workers  int
	Retries  int
	Seed     int64
	// Progress is logged every Interval; zero disables it.
	Interval time.Duration
}

type StressReport struct {
	Committed         uint64
	LockTimeouts      uint64
	BufferExhaustions uint64
	GaveUp            uint64
	Elapsed           time.Duration
	Total             int64
}

type account struct {
	blk    common.BlockID
	offset int
}

type stressCounters struct {
	committed    atomic.Uint64
	lockFail     atomic.Uint64
	bufferFail   atomic.Uint64
	gaveUp       atomic.Uint64
	finishedTxns atomic.Uint64
}

// RunStress moves money between random accounts of StressFile in
// concurrent transactions and checks that the total survives. Transfers
// that hit a lock timeout or an exhausted pool roll back and retry.
func RunStress(ctx context.Context, db *Database, opts StressOptions) (StressReport, error) {
	if opts.Accounts < 2 || opts.Txns <= 0 || opts.Workers <= 0 {
		return StressReport{}, fmt.Errorf("invalid stress options: %+v", opts)
	}

	accounts, err := setupAccounts(db, opts.Accounts)
	if err != nil {
		return StressReport{}, fmt.Errorf("failed to set up accounts: %w", err)
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return StressReport{}, err
	}
	defer pool.Release()

	var c stressCounters
	start := time.Now()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(workCtx)

	g.Go(func() error {
		defer cancel()

		var wg sync.WaitGroup
		var firstErr error
		var errOnce sync.Once
		fail := func(err error) {
			errOnce.Do(func() {
				firstErr = err
				cancel()
			})
		}

		for n := range opts.Txns {
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				defer c.finishedTxns.Add(1)

				r := rand.New(rand.NewSource(opts.Seed + int64(n))) //nolint:gosec
				for range opts.Retries + 1 {
					if gctx.Err() != nil {
						return
					}
					done, err := transfer(db, accounts, r, &c)
					if err != nil {
						fail(err)
						return
					}
					if done {
						return
					}
					time.Sleep(time.Duration(r.Intn(5)) * time.Millisecond)
				}
				c.gaveUp.Add(1)
			})
			if err != nil {
				wg.Done()
				fail(err)
				break
			}
		}
		wg.Wait()
		return firstErr
	})

	if opts.Interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					db.log.Infow("stress progress",
						"finished", c.finishedTxns.Load(),
						"committed", c.committed.Load(),
						"lock_timeouts", c.lockFail.Load(),
						"buffer_exhaustions", c.bufferFail.Load(),
					)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return StressReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return StressReport{}, err
	}

	report := StressReport{
		Committed:         c.committed.Load(),
		LockTimeouts:      c.lockFail.Load(),
		BufferExhaustions: c.bufferFail.Load(),
		GaveUp:            c.gaveUp.Load(),
		Elapsed:           time.Since(start),
	}

	report.Total, err = totalBalance(db, accounts)
	if err != nil {
		return report, err
	}
	if expected := int64(len(accounts)) * startBalance; report.Total != expected {
		return report, fmt.Errorf("%w: expected %d, got %d", ErrBalanceMismatch, expected, report.Total)
	}
	return report, nil
}

func setupAccounts(db *Database, n int) ([]account, error) {
	perBlock := db.cfg.BlockSize / page.IntSize
	accounts := make([]account, n)
	for i := range accounts {
		accounts[i] = account{
			blk:    common.NewBlockID(StressFile, i/perBlock),
			offset: (i % perBlock) * page.IntSize,
		}
	}

	tx, err := db.NewTx()
	if err != nil {
		return nil, err
	}

	err = func() error {
		size, err := tx.Size(StressFile)
		if err != nil {
			return err
		}
		for range accounts[n-1].blk.Number + 1 - size {
			if _, err := tx.Append(StressFile); err != nil {
				return err
			}
		}

		for _, acc := range accounts {
			if err := tx.Pin(acc.blk); err != nil {
				return err
			}
			if err := tx.SetInt(acc.blk, acc.offset, startBalance, true); err != nil {
				return err
			}
			tx.Unpin(acc.blk)
		}
		return tx.Commit()
	}()
	if err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}
	return accounts, nil
}

// transfer reports whether the transaction finished. Lock timeouts and
// buffer exhaustion roll back and are retried by the caller; anything
// else is fatal.
func transfer(db *Database, accounts []account, r *rand.Rand, c *stressCounters) (bool, error) {
	tx, err := db.NewTx()
	if err != nil {
		return false, err
	}

	abort := func(cause error) (bool, error) {
		rbErr := tx.Rollback()
		switch {
		case rbErr != nil:
			return false, errors.Join(cause, rbErr)
		case errors.Is(cause, txns.ErrLockTimeout):
			c.lockFail.Add(1)
		case errors.Is(cause, bufferpool.ErrBufferExhausted):
			c.bufferFail.Add(1)
		default:
			return false, cause
		}
		return false, nil
	}

	i := r.Intn(len(accounts))
	j := r.Intn(len(accounts) - 1)
	if j >= i {
		j++
	}
	from, to := accounts[i], accounts[j]

	for _, acc := range []account{from, to} {
		if err := tx.Pin(acc.blk); err != nil {
			return abort(err)
		}
	}

	fromBalance, err := tx.GetInt(from.blk, from.offset)
	if err != nil {
		return abort(err)
	}
	toBalance, err := tx.GetInt(to.blk, to.offset)
	if err != nil {
		return abort(err)
	}

	var amount int32
	if fromBalance > 0 {
		amount = r.Int31n(fromBalance)
	}
	if err := tx.SetInt(from.blk, from.offset, fromBalance-amount, true); err != nil {
		return abort(err)
	}
	if err := tx.SetInt(to.blk, to.offset, toBalance+amount, true); err != nil {
		return abort(err)
	}

	if err := tx.Commit(); err != nil {
		return abort(err)
	}
	c.committed.Add(1)
	return true, nil
}

func totalBalance(db *Database, accounts []account) (int64, error) {
	tx, err := db.NewTx()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, acc := range accounts {
		if err := tx.Pin(acc.blk); err != nil {
			return 0, errors.Join(err, tx.Rollback())
		}
		v, err := tx.GetInt(acc.blk, acc.offset)
		if err != nil {
			return 0, errors.Join(err, tx.Rollback())
		}
		total += int64(v)
		tx.Unpin(acc.blk)
	}
	return total, tx.Commit()
}
