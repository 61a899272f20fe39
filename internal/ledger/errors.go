package ledger

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when an event targets a (job slot, job code)
// pair that has no headcount record. Siblings lists the job codes that do
// exist at the slot so an operator can diagnose the mismatch.
type NotFoundError struct {
	CostCenterID string
	JobCodeID    string
	Siblings     []string
}

func (e *NotFoundError) Error() string {
	if len(e.Siblings) == 0 {
		return fmt.Sprintf("no headcount record for cargo %q at centro de custo %q", e.JobCodeID, e.CostCenterID)
	}
	return fmt.Sprintf("no headcount record for cargo %q at centro de custo %q (cargos at slot: %s)",
		e.JobCodeID, e.CostCenterID, strings.Join(e.Siblings, ", "))
}
