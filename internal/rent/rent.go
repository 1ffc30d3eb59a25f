// Package rent implements the hosting ledger's persistence-funding rule: an
// account is exempt from rent collection when its balance covers a fixed
// number of years of storage for its size plus a per-account overhead.
package rent

import "math"

// AccountStorageOverhead is charged on top of the data size of every account.
const AccountStorageOverhead = 128

const (
	DefaultLamportsPerByteYear = 3480
	DefaultExemptionThreshold  = 2.0
)

// Rule is a rent schedule. The zero value is not useful; use Default.
type Rule struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
}

// Default returns the ledger's documented rent schedule.
func Default() Rule {
	return Rule{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
	}
}

// MinimumBalance returns the smallest exempt balance for size bytes of data.
func (r Rule) MinimumBalance(size int) uint64 {
	bytes := uint64(AccountStorageOverhead + size)
	return uint64(math.Ceil(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold))
}

// IsExempt implements authority.RentOracle.
func (r Rule) IsExempt(balance uint64, size int) bool {
	return balance >= r.MinimumBalance(size)
}
