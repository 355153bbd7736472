// Command seed-db loads the product catalog and starter coupons into the
// database. It is safe to run repeatedly: rows are upserted by id.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/dmereles/vitrine/internal/catalog"
	"github.com/dmereles/vitrine/internal/coupon"
	"github.com/dmereles/vitrine/internal/repository"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Promo       bool            `json:"promo"`
	Variants    []struct {
		ID         string          `json:"id"`
		Label      string          `json:"label"`
		PriceDelta decimal.Decimal `json:"priceDelta"`
	} `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
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

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, catalog.Product{
			ID:                p.ID,
			Name:              p.Name,
			Description:       p.Description,
			Price:             p.Price,
			Category:          p.Category,
			PromoBuyOneGetTwo: p.Promo,
		}); err != nil {
			return err
		}

		for _, v := range p.Variants {
			if err := repo.UpsertVariant(ctx, catalog.Variant{
				ID:         v.ID,
				ProductID:  p.ID,
				Label:      v.Label,
				PriceDelta: v.PriceDelta,
			}); err != nil {
				return err
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("variants", len(p.Variants)))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	slog.Info("seeding starter coupons")

	coupons := []coupon.Rule{
		{
			Code:            "BEMVINDO10",
			DiscountPercent: decimal.NewFromInt(10),
			Active:          true,
			Description:     "Boas-vindas: 10% de desconto no pedido",
		},
		{
			Code:            "FRETEGRATIS5",
			DiscountPercent: decimal.NewFromInt(5),
			Active:          true,
			Description:     "5% de desconto para compensar o frete",
		},
	}

	for _, c := range coupons {
		if err := repo.Upsert(ctx, c); err != nil {
			return err
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}
