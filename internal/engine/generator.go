package engine

import (
	"sort"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
)

// Params tunes candidate generation.
type Params struct {
	Tolerance decimal.Decimal
	// Exclude holds candidate keys an operator rejected.
	Exclude          map[string]bool
	WindowDays       int
	MaxAggregateSize int
	MaxPool          int
}

// DefaultParams returns the default generation parameters.
func DefaultParams() Params {
	return Params{
		WindowDays:       5,
		Tolerance:        decimal.Zero,
		MaxAggregateSize: 5,
		MaxPool:          40,
	}
}

func (p Params) normalized() Params {
	defaults := DefaultParams()
	if p.WindowDays < 0 {
		p.WindowDays = defaults.WindowDays
	}
	if p.MaxAggregateSize == 0 {
		p.MaxAggregateSize = defaults.MaxAggregateSize
	}
	if p.MaxPool <= 0 {
		p.MaxPool = defaults.MaxPool
	}
	p.Tolerance = p.Tolerance.Abs()
	return p
}

// Generator produces reconciliation suggestions. It only reads the records it
// is given and never touches the ledger.
type Generator struct {
	params Params
}

// NewGenerator creates a generator with the given parameters.
func NewGenerator(params Params) *Generator {
	return &Generator{params: params.normalized()}
}

// Generate runs the generator's parameters over one snapshot.
func (g *Generator) Generate(sales []model.Sale, entries []model.BankEntry) []model.CandidateLink {
	return Generate(sales, entries, g.params)
}

// Generate returns candidate links ordered by descending score. The same
// inputs and parameters always yield the same candidates in the same order,
// and no record appears in more than one candidate.
//
// Exact 1:1 matches are found first. Records they leave over are searched for
// N:1 and 1:N aggregates with a bounded subset-sum over the nearest-dated
// records in the window.
func Generate(sales []model.Sale, entries []model.BankEntry, params Params) []model.CandidateLink {
	p := params.normalized()

	sales, entries = eligible(sales, entries)
	used := make(map[string]bool)

	exact := claim(exactMatches(sales, entries, p), used)

	var aggregates []model.CandidateLink
	if p.MaxAggregateSize >= 2 {
		leftSales, leftEntries := unused(sales, entries, used)
		aggregates = append(aggregates, manyToOne(leftSales, leftEntries, p)...)
		aggregates = append(aggregates, oneToMany(leftSales, leftEntries, p)...)
		aggregates = claim(aggregates, used)
	}

	candidates := append(exact, aggregates...)
	sortCandidates(candidates)
	return candidates
}

// eligible drops reconciled, zero-amount and outflow records and orders the
// rest by date then id so iteration order never depends on the caller.
func eligible(sales []model.Sale, entries []model.BankEntry) ([]model.Sale, []model.BankEntry) {
	var outSales []model.Sale
	for _, s := range sales {
		if s.IsReconciled() || !s.Amount.IsPositive() {
			continue
		}
		outSales = append(outSales, s)
	}
	sort.SliceStable(outSales, func(i, j int) bool {
		if !outSales[i].Date.Equal(outSales[j].Date) {
			return outSales[i].Date.Before(outSales[j].Date)
		}
		return outSales[i].ID < outSales[j].ID
	})

	var outEntries []model.BankEntry
	for _, b := range entries {
		if b.IsReconciled() || !b.IsInflow() || b.Value().IsZero() {
			continue
		}
		outEntries = append(outEntries, b)
	}
	sort.SliceStable(outEntries, func(i, j int) bool {
		if !outEntries[i].PostedAt.Equal(outEntries[j].PostedAt) {
			return outEntries[i].PostedAt.Before(outEntries[j].PostedAt)
		}
		return outEntries[i].ID < outEntries[j].ID
	})

	return outSales, outEntries
}

func exactMatches(sales []model.Sale, entries []model.BankEntry, p Params) []model.CandidateLink {
	var candidates []model.CandidateLink
	for _, entry := range entries {
		for _, sale := range sales {
			if !sale.Amount.Equal(entry.Value()) {
				continue
			}
			days := dayDistance(sale.Date, entry.PostedAt)
			if days > p.WindowDays {
				continue
			}
			c := model.NewCandidate([]model.Sale{sale}, []model.BankEntry{entry}, model.MethodAuto, model.PassExact)
			if p.Exclude[c.Key] {
				continue
			}
			c.DateDistance = float64(days)
			c.Score = score(c.DateDistance, p.WindowDays)
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// member is one record considered for the many side of an aggregate.
type member struct {
	amount decimal.Decimal
	id     string
	index  int
	days   int
}

func manyToOne(sales []model.Sale, entries []model.BankEntry, p Params) []model.CandidateLink {
	var candidates []model.CandidateLink
	for _, entry := range entries {
		pool := make([]member, 0, len(sales))
		for i, sale := range sales {
			if days := dayDistance(sale.Date, entry.PostedAt); days <= p.WindowDays {
				pool = append(pool, member{amount: sale.Amount, id: sale.ID, index: i, days: days})
			}
		}

		excluded := func(chosen []member) bool {
			return p.Exclude[model.CandidateKey(memberIDs(chosen), []string{entry.ID})]
		}
		chosen := bestSubset(nearest(pool, p.MaxPool), entry.Value(), p, excluded)
		if chosen == nil {
			continue
		}

		picked := make([]model.Sale, len(chosen))
		for i, m := range chosen {
			picked[i] = sales[m.index]
		}
		sort.SliceStable(picked, func(i, j int) bool {
			if !picked[i].Date.Equal(picked[j].Date) {
				return picked[i].Date.Before(picked[j].Date)
			}
			return picked[i].ID < picked[j].ID
		})

		c := model.NewCandidate(picked, []model.BankEntry{entry}, model.MethodAuto, model.PassAggregate)
		c.DateDistance = meanDays(chosen)
		c.Score = score(c.DateDistance, p.WindowDays)
		candidates = append(candidates, c)
	}
	return candidates
}

func oneToMany(sales []model.Sale, entries []model.BankEntry, p Params) []model.CandidateLink {
	var candidates []model.CandidateLink
	for _, sale := range sales {
		pool := make([]member, 0, len(entries))
		for i, entry := range entries {
			if days := dayDistance(sale.Date, entry.PostedAt); days <= p.WindowDays {
				pool = append(pool, member{amount: entry.Value(), id: entry.ID, index: i, days: days})
			}
		}

		excluded := func(chosen []member) bool {
			return p.Exclude[model.CandidateKey([]string{sale.ID}, memberIDs(chosen))]
		}
		chosen := bestSubset(nearest(pool, p.MaxPool), sale.Amount, p, excluded)
		if chosen == nil {
			continue
		}

		picked := make([]model.BankEntry, len(chosen))
		for i, m := range chosen {
			picked[i] = entries[m.index]
		}
		sort.SliceStable(picked, func(i, j int) bool {
			if !picked[i].PostedAt.Equal(picked[j].PostedAt) {
				return picked[i].PostedAt.Before(picked[j].PostedAt)
			}
			return picked[i].ID < picked[j].ID
		})

		c := model.NewCandidate([]model.Sale{sale}, picked, model.MethodAuto, model.PassAggregate)
		c.DateDistance = meanDays(chosen)
		c.Score = score(c.DateDistance, p.WindowDays)
		candidates = append(candidates, c)
	}
	return candidates
}

// nearest keeps the limit closest-dated members.
func nearest(pool []member, limit int) []member {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].days != pool[j].days {
			return pool[i].days < pool[j].days
		}
		return pool[i].id < pool[j].id
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}
	return pool
}

// bestSubset finds the smallest subset of pool, between 2 and
// p.MaxAggregateSize members, whose amounts sum to target within tolerance.
// Among subsets of that size the lowest total date distance wins, then the
// lexically smallest ids.
func bestSubset(pool []member, target decimal.Decimal, p Params, excluded func([]member) bool) []member {
	if len(pool) < 2 {
		return nil
	}

	byAmount := append([]member(nil), pool...)
	sort.SliceStable(byAmount, func(i, j int) bool {
		if !byAmount[i].amount.Equal(byAmount[j].amount) {
			return byAmount[i].amount.LessThan(byAmount[j].amount)
		}
		return byAmount[i].id < byAmount[j].id
	})

	lower := target.Sub(p.Tolerance)
	upper := target.Add(p.Tolerance)

	for size := 2; size <= p.MaxAggregateSize && size <= len(byAmount); size++ {
		var best []member
		chosen := make([]member, 0, size)

		var walk func(start int, sum decimal.Decimal)
		walk = func(start int, sum decimal.Decimal) {
			if len(chosen) == size {
				if sum.GreaterThanOrEqual(lower) && !excluded(chosen) && better(chosen, best) {
					best = append(best[:0:0], chosen...)
				}
				return
			}
			for i := start; i <= len(byAmount)-(size-len(chosen)); i++ {
				next := sum.Add(byAmount[i].amount)
				// Amounts are ascending, so every later member overshoots too.
				if next.GreaterThan(upper) {
					return
				}
				chosen = append(chosen, byAmount[i])
				walk(i+1, next)
				chosen = chosen[:len(chosen)-1]
			}
		}
		walk(0, decimal.Zero)

		if best != nil {
			return best
		}
	}
	return nil
}

func better(a, b []member) bool {
	if b == nil {
		return true
	}
	da, db := totalDays(a), totalDays(b)
	if da != db {
		return da < db
	}
	ia, ib := sortedIDs(a), sortedIDs(b)
	for i := range ia {
		if ia[i] != ib[i] {
			return ia[i] < ib[i]
		}
	}
	return false
}

// claim keeps candidates in ranking order while none of their records are
// already used, marking the records of each kept candidate as used.
func claim(candidates []model.CandidateLink, used map[string]bool) []model.CandidateLink {
	sortCandidates(candidates)

	var kept []model.CandidateLink
	for _, c := range candidates {
		if anyUsed(c, used) {
			continue
		}
		for _, id := range c.SaleIDs() {
			used[saleKey(id)] = true
		}
		for _, id := range c.BankEntryIDs() {
			used[bankKey(id)] = true
		}
		kept = append(kept, c)
	}
	return kept
}

func anyUsed(c model.CandidateLink, used map[string]bool) bool {
	for _, id := range c.SaleIDs() {
		if used[saleKey(id)] {
			return true
		}
	}
	for _, id := range c.BankEntryIDs() {
		if used[bankKey(id)] {
			return true
		}
	}
	return false
}

func unused(sales []model.Sale, entries []model.BankEntry, used map[string]bool) ([]model.Sale, []model.BankEntry) {
	var leftSales []model.Sale
	for _, s := range sales {
		if !used[saleKey(s.ID)] {
			leftSales = append(leftSales, s)
		}
	}
	var leftEntries []model.BankEntry
	for _, b := range entries {
		if !used[bankKey(b.ID)] {
			leftEntries = append(leftEntries, b)
		}
	}
	return leftSales, leftEntries
}

// sortCandidates orders by score, then date distance, then record count, then key.
func sortCandidates(candidates []model.CandidateLink) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DateDistance != b.DateDistance {
			return a.DateDistance < b.DateDistance
		}
		if a.RecordCount() != b.RecordCount() {
			return a.RecordCount() < b.RecordCount()
		}
		return a.Key < b.Key
	})
}

func score(days float64, window int) float64 {
	return 1 - days/float64(window+1)
}

// dayDistance counts calendar days between two instants in UTC.
func dayDistance(a, b time.Time) int {
	da := a.UTC().Truncate(24 * time.Hour)
	db := b.UTC().Truncate(24 * time.Hour)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

func meanDays(members []member) float64 {
	if len(members) == 0 {
		return 0
	}
	return float64(totalDays(members)) / float64(len(members))
}

func totalDays(members []member) int {
	total := 0
	for _, m := range members {
		total += m.days
	}
	return total
}

func memberIDs(members []member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.id
	}
	return ids
}

func sortedIDs(members []member) []string {
	ids := memberIDs(members)
	sort.Strings(ids)
	return ids
}

func saleKey(id string) string { return "s:" + id }
func bankKey(id string) string { return "b:" + id }
