package kvstore

type Order int

const (
	Ascending Order = iota
	Descending
)

// ScanOptions select which entries Tx.Find visits. A key range wins over a
// prefix, zero limit means unbounded.
type ScanOptions struct {
	order  Order
	lower  string
	upper  string
	ranged bool
	prefix string
	limit  int
}

func Scan() *ScanOptions {
	return &ScanOptions{order: Ascending}
}

func (o *ScanOptions) Descending() *ScanOptions {
	o.order = Descending
	return o
}

// Between limits the scan to keys in [lower, upper]
func (o *ScanOptions) Between(lower, upper string) *ScanOptions {
	o.lower, o.upper, o.ranged = lower, upper, true
	return o
}

// Under limits the scan to the key itself and keys below it
func (o *ScanOptions) Under(prefix string) *ScanOptions {
	o.prefix = prefix
	return o
}

func (o *ScanOptions) Limit(n int) *ScanOptions {
	o.limit = n
	return o
}

func (o *ScanOptions) full(n int) bool {
	return o.limit > 0 && n >= o.limit
}
