package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbase/quadro-integrator/internal/models"
)

// fakeStore keeps records in memory and mimics the transactional contract:
// mutations are staged per transaction and discarded when the callback
// errors, so rollback behavior is observable.
type fakeStore struct {
	records map[string]*models.HeadcountRecord // keyed by costCenter|jobCode
	saveErr error
}

func key(costCenterID, jobCodeID string) string {
	return costCenterID + "|" + jobCodeID
}

func newFakeStore(records ...*models.HeadcountRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]*models.HeadcountRecord)}
	for _, r := range records {
		s.records[key(r.CostCenterID, r.JobCodeID)] = r
	}
	return s
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &fakeTx{store: s, staged: make(map[string]*models.HeadcountRecord)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, rec := range tx.staged {
		s.records[k] = rec
	}
	return nil
}

func (s *fakeStore) FindByCostCenterAndJobCode(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error) {
	rec, ok := s.records[key(costCenterID, jobCodeID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) FindByCostCenter(ctx context.Context, costCenterID string) ([]models.HeadcountRecord, error) {
	var out []models.HeadcountRecord
	for _, rec := range s.records {
		if rec.CostCenterID == costCenterID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type fakeTx struct {
	store  *fakeStore
	staged map[string]*models.HeadcountRecord
}

func (t *fakeTx) LockRecord(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error) {
	k := key(costCenterID, jobCodeID)
	if rec, ok := t.staged[k]; ok {
		return rec, nil
	}
	rec, ok := t.store.records[k]
	if !ok {
		return nil, nil
	}
	cp := *rec
	t.staged[k] = &cp
	return &cp, nil
}

func (t *fakeTx) SiblingJobCodes(ctx context.Context, costCenterID string) ([]string, error) {
	var codes []string
	for _, rec := range t.store.records {
		if rec.CostCenterID == costCenterID {
			codes = append(codes, rec.JobCodeID)
		}
	}
	return codes, nil
}

func (t *fakeTx) SaveCounts(ctx context.Context, rec *models.HeadcountRecord) error {
	if t.store.saveErr != nil {
		return t.store.saveErr
	}
	t.staged[key(rec.CostCenterID, rec.JobCodeID)] = rec
	return nil
}

type noopAudit struct{ actions []string }

func (a *noopAudit) LogAction(ctx context.Context, entityID, entityType, action, actor string, before, after map[string]any) error {
	a.actions = append(a.actions, action)
	return nil
}

func record(costCenterID, jobCodeID string, planned, actual int) *models.HeadcountRecord {
	return &models.HeadcountRecord{
		ID:           "rec-" + jobCodeID,
		CompanyID:    "empresa-1",
		CostCenterID: costCenterID,
		JobCodeID:    jobCodeID,
		PlannedCount: planned,
		ActualCount:  actual,
		Active:       true,
	}
}

func admission(costCenterID, jobCodeID string) models.ColaboradorEvent {
	return models.ColaboradorEvent{
		EmployeeID:   "emp-1",
		JobCodeID:    jobCodeID,
		CostCenterID: costCenterID,
		EventType:    models.EventAdmission,
	}
}

func TestNormalizer_Admission(t *testing.T) {
	t.Run("increments actual count on matching slot", func(t *testing.T) {
		store := newFakeStore(record("cc-1", "dev_pleno", 5, 2))
		aud := &noopAudit{}
		n := NewNormalizer(store, aud)

		err := n.Apply(context.Background(), admission("cc-1", "dev_pleno"))

		require.NoError(t, err)
		rec := store.records[key("cc-1", "dev_pleno")]
		assert.Equal(t, 3, rec.ActualCount)
		assert.Contains(t, aud.actions, "admissao_aplicada")
	})

	t.Run("admission without availability succeeds with distinct audit", func(t *testing.T) {
		store := newFakeStore(record("cc-1", "dev_pleno", 2, 2))
		aud := &noopAudit{}
		n := NewNormalizer(store, aud)

		err := n.Apply(context.Background(), admission("cc-1", "dev_pleno"))

		require.NoError(t, err)
		assert.Equal(t, 3, store.records[key("cc-1", "dev_pleno")].ActualCount)
		assert.Contains(t, aud.actions, "admissao_sem_vaga")
		assert.NotContains(t, aud.actions, "admissao_aplicada")
	})

	t.Run("missing slot fails listing sibling cargos", func(t *testing.T) {
		store := newFakeStore(record("cc-1", "dev_pleno", 5, 0))
		n := NewNormalizer(store, &noopAudit{})

		err := n.Apply(context.Background(), admission("cc-1", "dev_senior"))

		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "cc-1", notFound.CostCenterID)
		assert.Equal(t, "dev_senior", notFound.JobCodeID)
		assert.Contains(t, notFound.Siblings, "dev_pleno")
		// No counter changed.
		assert.Equal(t, 0, store.records[key("cc-1", "dev_pleno")].ActualCount)
	})
}

func TestNormalizer_Transfer(t *testing.T) {
	transfer := func() models.ColaboradorEvent {
		return models.ColaboradorEvent{
			EmployeeID:           "emp-1",
			JobCodeID:            "dev_pleno",
			CostCenterID:         "cc-dest",
			PreviousCostCenterID: "cc-source",
			EventType:            models.EventTransfer,
		}
	}

	t.Run("moves one unit from source to destination", func(t *testing.T) {
		store := newFakeStore(
			record("cc-source", "dev_pleno", 5, 3),
			record("cc-dest", "dev_pleno", 5, 1),
		)
		n := NewNormalizer(store, &noopAudit{})

		err := n.Apply(context.Background(), transfer())

		require.NoError(t, err)
		assert.Equal(t, 2, store.records[key("cc-source", "dev_pleno")].ActualCount)
		assert.Equal(t, 2, store.records[key("cc-dest", "dev_pleno")].ActualCount)
	})

	t.Run("destination failure rolls back the source decrement", func(t *testing.T) {
		store := newFakeStore(
			record("cc-source", "dev_pleno", 5, 3),
		)
		n := NewNormalizer(store, &noopAudit{})

		err := n.Apply(context.Background(), transfer())

		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		// The source decrement was staged inside the failed transaction.
		assert.Equal(t, 3, store.records[key("cc-source", "dev_pleno")].ActualCount)
	})

	t.Run("empty source slot warns and still transfers", func(t *testing.T) {
		store := newFakeStore(
			record("cc-source", "dev_pleno", 5, 0),
			record("cc-dest", "dev_pleno", 5, 1),
		)
		aud := &noopAudit{}
		n := NewNormalizer(store, aud)

		err := n.Apply(context.Background(), transfer())

		require.NoError(t, err)
		assert.Equal(t, 0, store.records[key("cc-source", "dev_pleno")].ActualCount)
		assert.Equal(t, 2, store.records[key("cc-dest", "dev_pleno")].ActualCount)
		assert.Contains(t, aud.actions, "baixa_sem_unidade")
	})

	t.Run("uses previous job code on the source when it changes", func(t *testing.T) {
		store := newFakeStore(
			record("cc-source", "dev_junior", 5, 2),
			record("cc-dest", "dev_pleno", 5, 1),
		)
		n := NewNormalizer(store, &noopAudit{})

		ev := transfer()
		ev.PreviousJobCodeID = "dev_junior"
		err := n.Apply(context.Background(), ev)

		require.NoError(t, err)
		assert.Equal(t, 1, store.records[key("cc-source", "dev_junior")].ActualCount)
		assert.Equal(t, 2, store.records[key("cc-dest", "dev_pleno")].ActualCount)
	})
}

func TestNormalizer_Termination(t *testing.T) {
	t.Run("decrements the matching slot", func(t *testing.T) {
		store := newFakeStore(record("cc-1", "dev_pleno", 5, 2))
		n := NewNormalizer(store, &noopAudit{})

		err := n.Apply(context.Background(), models.ColaboradorEvent{
			EmployeeID:   "emp-1",
			JobCodeID:    "dev_pleno",
			CostCenterID: "cc-1",
			EventType:    models.EventTermination,
		})

		require.NoError(t, err)
		assert.Equal(t, 1, store.records[key("cc-1", "dev_pleno")].ActualCount)
	})

	t.Run("empty slot succeeds without going negative", func(t *testing.T) {
		store := newFakeStore(record("cc-1", "dev_pleno", 5, 0))
		aud := &noopAudit{}
		n := NewNormalizer(store, aud)

		err := n.Apply(context.Background(), models.ColaboradorEvent{
			EmployeeID:   "emp-1",
			JobCodeID:    "dev_pleno",
			CostCenterID: "cc-1",
			EventType:    models.EventTermination,
		})

		require.NoError(t, err)
		assert.Equal(t, 0, store.records[key("cc-1", "dev_pleno")].ActualCount)
		assert.Contains(t, aud.actions, "baixa_sem_unidade")
	})
}

func TestNormalizer_Promotion(t *testing.T) {
	t.Run("moves one unit between job codes in the same slot", func(t *testing.T) {
		store := newFakeStore(
			record("cc-1", "dev_pleno", 5, 2),
			record("cc-1", "dev_senior", 3, 1),
		)
		n := NewNormalizer(store, &noopAudit{})

		err := n.Apply(context.Background(), models.ColaboradorEvent{
			EmployeeID:        "emp-1",
			JobCodeID:         "dev_senior",
			CostCenterID:      "cc-1",
			PreviousJobCodeID: "dev_pleno",
			EventType:         models.EventPromotion,
		})

		require.NoError(t, err)
		assert.Equal(t, 1, store.records[key("cc-1", "dev_pleno")].ActualCount)
		assert.Equal(t, 2, store.records[key("cc-1", "dev_senior")].ActualCount)
	})
}

func TestNormalizer_Apply(t *testing.T) {
	t.Run("unknown event type fails", func(t *testing.T) {
		n := NewNormalizer(newFakeStore(), &noopAudit{})

		err := n.Apply(context.Background(), models.ColaboradorEvent{EventType: "colaborador.desconhecido"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
	})

	t.Run("save failure surfaces and nothing commits", func(t *testing.T) {
		store := newFakeStore(record("cc-1", "dev_pleno", 5, 2))
		store.saveErr = errors.New("connection reset")
		n := NewNormalizer(store, &noopAudit{})

		err := n.Apply(context.Background(), admission("cc-1", "dev_pleno"))

		require.Error(t, err)
		assert.Equal(t, 2, store.records[key("cc-1", "dev_pleno")].ActualCount)
	})
}
