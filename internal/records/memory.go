package records

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Seed is the nested YAML form of the location hierarchy.
//
//	cities:
//	  - id: c1
//	    name: Lisbon
//	    neighborhoods:
//	      - id: n1
//	        name: Alfama
//	        apartments: [...]
//	balances:
//	  - user_id: u1
//	    spark_coins: 250
type Seed struct {
	Cities   []SeedCity    `yaml:"cities"`
	Balances []SeedBalance `yaml:"balances"`
}

type SeedCity struct {
	Record        `yaml:",inline"`
	Neighborhoods []SeedNeighborhood `yaml:"neighborhoods"`
}

type SeedNeighborhood struct {
	Record     `yaml:",inline"`
	Apartments []SeedApartment `yaml:"apartments"`
}

type SeedApartment struct {
	Record `yaml:",inline"`
	Floors []Record `yaml:"floors"`
}

// SeedBalance is one user_balances row.
type SeedBalance struct {
	UserID     string `yaml:"user_id" db:"user_id" json:"user_id"`
	SparkCoins int64  `yaml:"spark_coins" db:"spark_coins" json:"spark_coins"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML and checks every record has an id and a name.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for _, table := range []string{TableCities, TableNeighborhoods, TableApartments, TableFloors} {
		for _, rec := range seed.Table(table) {
			if rec.ID == "" || rec.Name == "" {
				return nil, fmt.Errorf("seed %s: record needs id and name (got id=%q name=%q)", table, rec.ID, rec.Name)
			}
		}
	}
	return &seed, nil
}

// Table flattens the tree into the rows of one table, with parent ids filled in.
func (s *Seed) Table(table string) []Record {
	var out []Record
	for _, c := range s.Cities {
		if table == TableCities {
			out = append(out, c.Record)
			continue
		}
		for _, n := range c.Neighborhoods {
			if table == TableNeighborhoods {
				rec := n.Record
				rec.ParentID = c.ID
				out = append(out, rec)
				continue
			}
			for _, a := range n.Apartments {
				if table == TableApartments {
					rec := a.Record
					rec.ParentID = n.ID
					out = append(out, rec)
					continue
				}
				if table == TableFloors {
					for _, f := range a.Floors {
						f.ParentID = a.ID
						out = append(out, f)
					}
				}
			}
		}
	}
	return out
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tables   map[string][]Record
	balances map[string]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string][]Record),
		balances: make(map[string]int64),
	}
}

// NewMemoryStoreFromSeed returns a store holding every row of seed.
func NewMemoryStoreFromSeed(seed *Seed) *MemoryStore {
	m := NewMemoryStore()
	for table := range parentFields {
		m.tables[table] = seed.Table(table)
	}
	for _, b := range seed.Balances {
		m.balances[b.UserID] = b.SparkCoins
	}
	return m
}

// Put adds rows to a table.
func (m *MemoryStore) Put(table string, recs ...Record) error {
	if _, err := ParentField(table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], recs...)
	return nil
}

// SetBalance sets a user's spark coins.
func (m *MemoryStore) SetBalance(userID string, coins int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = coins
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, table string, filter Filter, order Order) ([]Record, error) {
	if _, err := validateQuery(table, filter, order); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var out []Record
	for _, rec := range m.tables[table] {
		if !filter.IsZero() {
			v := rec.ParentID
			if filter.Field == "id" {
				v = rec.ID
			}
			if v != filter.Value {
				continue
			}
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	switch order.Field {
	case "":
	case "name":
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if a.Name != b.Name {
				return (a.Name < b.Name) == order.Ascending
			}
			return a.ID < b.ID
		})
	case "created_at":
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt) == order.Ascending
			}
			return a.ID < b.ID
		})
	default:
		return nil, fmt.Errorf("memory store cannot order by %q", order.Field)
	}
	return out, nil
}

// SparkCoins implements BalanceStore.
func (m *MemoryStore) SparkCoins(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coins, ok := m.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return coins, nil
}
