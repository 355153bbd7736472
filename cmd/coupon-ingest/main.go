// Command coupon-ingest loads marketing coupon dumps into the database.
//
// Campaign partners deliver gzip-compressed dumps of candidate codes, one
// code per line. Dumps are noisy: a code is only accepted when it appears in
// at least two dumps. Accepted codes become percentage coupons, with a small
// set of known campaign codes getting their own discount rules.
//
// Dumps are far larger than memory, so acceptance is computed in two
// streaming passes: pass 1 builds one bloom filter per dump, pass 2
// re-streams each dump testing codes against the other dumps' filters.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dmereles/vitrine/internal/coupon"
	"github.com/dmereles/vitrine/internal/repository"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 12
)

// campaignRule pins a specific discount to a known campaign code.
type campaignRule struct {
	percent     int64
	description string
}

var campaignRules = map[string]campaignRule{
	"BLACKNOV": {percent: 30, description: "Black November: 30% de desconto"},
	"NATAL25X": {percent: 25, description: "Natal: 25% de desconto"},
	"VOLTAAULA": {percent: 15, description: "Volta às aulas: 15% de desconto"},
	"ANIVERSARIO": {percent: 20, description: "Aniversário da loja: 20% de desconto"},
}

var defaultRule = campaignRule{percent: 10, description: "Cupom promocional: 10% de desconto"}

// dumpCandidates holds candidate codes found in one dump during pass 2. The
// mask records which dumps the code was seen or matched in.
type dumpCandidates struct {
	codes map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing coupon dump .gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	dumps, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list dumps")
	}
	if len(dumps) < 2 {
		return errors.Errorf("need at least 2 dumps in %s, found %d", dataDir, len(dumps))
	}
	sort.Strings(dumps)

	slog.Info("pass 1: building bloom filters", slog.Int("dumps", len(dumps)))

	filters, err := buildBloomFilters(ctx, dumps)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding accepted codes")

	accepted, err := findAcceptedCodes(ctx, dumps, filters)
	if err != nil {
		return errors.Wrap(err, "find accepted codes")
	}

	slog.Info("accepted codes found", slog.Int("count", len(accepted)))

	if len(accepted) == 0 {
		slog.Info("no codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, repository.NewCouponRepository(pool), accepted); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per dump, concurrently.
func buildBloomFilters(ctx context.Context, dumps []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range dumps {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, path, func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("dump", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}

			slog.Info("pass 1 complete", slog.Int("dump", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findAcceptedCodes re-streams each dump and tests codes against the OTHER
// dumps' bloom filters. A code is accepted when it appears in 2 or more
// dumps.
func findAcceptedCodes(ctx context.Context, dumps []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]dumpCandidates, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range dumps {
		g.Go(func() error {
			codes := make(map[string]uint)
			dumpBit := uint(1) << uint(i)
			var count uint64

			if err := streamGzFile(ctx, path, func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}

				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("dump", i+1), slog.Uint64("codes", count))
				}

				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						codes[code] |= dumpBit
						break
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}

			slog.Info("pass 2 complete",
				slog.Int("dump", i+1),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(codes)))
			results[i] = dumpCandidates{codes: codes}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.codes {
			merged[code] |= mask
		}
	}

	var accepted []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			accepted = append(accepted, code)
		}
	}
	sort.Strings(accepted)

	return accepted, nil
}

// streamGzFile opens a gzip-compressed dump and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCoupons upserts accepted codes as active percentage coupons.
func writeCoupons(ctx context.Context, repo *repository.CouponRepository, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for i, code := range codes {
		rule, ok := campaignRules[code]
		if !ok {
			rule = defaultRule
		}

		if err := repo.Upsert(ctx, coupon.Rule{
			Code:            code,
			DiscountPercent: decimal.NewFromInt(rule.percent),
			Active:          true,
			Description:     rule.description,
		}); err != nil {
			return err
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
