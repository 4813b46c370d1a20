package model

import "fmt"

// QubitLevels is the dimensionality of a binary qudit.
const QubitLevels = 2

// QuditRef identifies an allocated qudit. Levels is the dimensionality of the
// qudit (2 for a qubit) and ID is the index handed out by the allocator.
type QuditRef struct {
	Levels int `json:"levels"`
	ID     int `json:"id"`
}

// Qubit returns a reference to the 2-level qudit with the given id.
func Qubit(id int) QuditRef {
	return QuditRef{Levels: QubitLevels, ID: id}
}

func (q QuditRef) String() string {
	if q.Levels == QubitLevels {
		return fmt.Sprintf("q%d", q.ID)
	}
	return fmt.Sprintf("q%d<%d>", q.ID, q.Levels)
}
