package backtest

// concurrent.go — worker pool para correr muchas combinaciones
// (estrategia, símbolo) en paralelo. Cada instancia es independiente: no hay
// estado compartido entre jobs más allá del Runner, que es de sólo lectura.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// RunAll corre todos los jobs en paralelo y devuelve los resultados ordenados
// por (estrategia, símbolo), sin importar el orden en que terminaron. Los jobs
// que fallan se omiten y sus errores se devuelven unidos.
//
// Si Workers <= 0 usa runtime.NumCPU().
func (r *Runner) RunAll(ctx context.Context, jobs []Job) ([]domain.BacktestResult, error) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	type outcome struct {
		res domain.BacktestResult
		err error
	}

	workCh := make(chan Job, len(jobs))
	resultCh := make(chan outcome, len(jobs))

	// Worker pool: cada worker toma jobs de workCh y envía resultados a resultCh.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range workCh {
				res, err := r.Run(ctx, job)
				if err != nil {
					err = fmt.Errorf("%s/%s: %w", job.Strategy.Name, job.Series.Symbol, err)
				}
				resultCh <- outcome{res: res, err: err}
			}
		}()
	}

	for _, job := range jobs {
		workCh <- job
	}
	close(workCh)

	// Cerrar resultCh cuando todos los workers terminen.
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]domain.BacktestResult, 0, len(jobs))
	var errs []error
	for o := range resultCh {
		if o.err != nil {
			slog.Warn("backtest job failed", "err", o.err)
			errs = append(errs, o.err)
			continue
		}
		results = append(results, o.res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Strategy != results[j].Strategy {
			return results[i].Strategy < results[j].Strategy
		}
		return results[i].Symbol < results[j].Symbol
	})
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })

	slog.Debug("concurrent backtest complete",
		"jobs", len(jobs),
		"ok", len(results),
		"failed", len(errs),
		"workers", workers,
	)
	return results, errors.Join(errs...)
}
