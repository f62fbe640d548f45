package ledger

import (
	"context"

	"github.com/SrTcot/face-nomad/internal/logging"
)

// CleanDuplicates removes records that repeat an earlier-listed record's
// worker, type, date and time. Records are visited newest first, so the
// newest of each group survives. It returns how many were removed.
func CleanDuplicates(ctx context.Context, store Store) (int, error) {
	records, err := store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	type key struct {
		worker, typ, date, time string
	}
	seen := make(map[key]bool, len(records))
	var duplicates []int64
	for _, r := range records {
		k := key{r.WorkerID, string(r.Type), r.Date, r.Time}
		if seen[k] {
			duplicates = append(duplicates, r.ID)
			continue
		}
		seen[k] = true
	}

	for i, id := range duplicates {
		if err := store.Delete(ctx, id); err != nil {
			return i, err
		}
	}
	if len(duplicates) > 0 {
		logging.Info("duplicate records removed", map[string]interface{}{"count": len(duplicates)})
	}
	return len(duplicates), nil
}
