// Command seed_records loads the location hierarchy from a YAML seed file into
// Postgres (schema included) or into Supabase through PostgREST.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/supabase/client"
)

func main() {
	var (
		envFile  = flag.String("env", ".env", "Optional .env file with DATABASE_URL or SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY")
		seedFile = flag.String("seed", "seed/records.yaml", "YAML seed file")
		target   = flag.String("target", "postgres", "Where to load the seed: postgres|supabase")
		skipDDL  = flag.Bool("skip-schema", false, "Do not apply the schema before seeding (postgres only)")
		timeout  = flag.Duration("timeout", time.Minute, "Overall timeout")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	seed, err := records.LoadSeed(*seedFile)
	if err != nil {
		log.Fatalf("load seed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *target {
	case "postgres":
		err = seedPostgres(ctx, seed, !*skipDDL)
	case "supabase":
		err = seedSupabase(ctx, seed)
	default:
		err = fmt.Errorf("unknown target %q", *target)
	}
	if err != nil {
		log.Fatalf("seed %s: %v", *target, err)
	}

	fmt.Printf("Seeded %d cities, %d neighborhoods, %d apartments, %d floors and %d balances into %s\n",
		len(seed.Table(records.TableCities)),
		len(seed.Table(records.TableNeighborhoods)),
		len(seed.Table(records.TableApartments)),
		len(seed.Table(records.TableFloors)),
		len(seed.Balances),
		*target)
}

func seedPostgres(ctx context.Context, seed *records.Seed, applySchema bool) error {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	pg, err := records.OpenPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	defer pg.Close()

	if applySchema {
		if err := records.ApplySchema(ctx, pg.DB().DB); err != nil {
			return err
		}
	}
	return records.SeedPostgres(ctx, pg.DB(), seed)
}

func seedSupabase(ctx context.Context, seed *records.Seed) error {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if url == "" || key == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required")
	}
	sb, err := client.New(client.Config{URL: url, APIKey: key})
	if err != nil {
		return err
	}
	store := records.NewSupabaseStore(sb)

	for _, table := range []string{records.TableCities, records.TableNeighborhoods, records.TableApartments, records.TableFloors} {
		rows, err := seedRows(table, seed.Table(table))
		if err != nil {
			return err
		}
		if err := store.Upsert(ctx, table, rows); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}

	balances := make([]map[string]any, 0, len(seed.Balances))
	for _, b := range seed.Balances {
		balances = append(balances, map[string]any{"user_id": b.UserID, "spark_coins": b.SparkCoins})
	}
	if err := store.Upsert(ctx, records.TableUserBalances, balances); err != nil {
		return fmt.Errorf("upsert %s: %w", records.TableUserBalances, err)
	}
	return nil
}

func seedRows(table string, recs []records.Record) ([]map[string]any, error) {
	parent, err := records.ParentField(table)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		row := map[string]any{
			"id":          rec.ID,
			"name":        rec.Name,
			"description": rec.Description,
			"image_url":   rec.ImageURL,
		}
		if parent != "" {
			row[parent] = rec.ParentID
		}
		if !rec.CreatedAt.IsZero() {
			row["created_at"] = rec.CreatedAt
		}
		rows = append(rows, row)
	}
	return rows, nil
}
