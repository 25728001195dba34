package deadletter

import "testing"

func TestStore_BatchRoundtrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.PutBatch("batch-1", []byte(`{"events":3}`)); err != nil {
		t.Fatalf("put batch: %v", err)
	}

	batches, err := s.ListBatches()
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if string(batches["batch-1"]) != `{"events":3}` {
		t.Errorf("unexpected batch contents: %s", batches["batch-1"])
	}
}

func TestStore_DeliveryJobLifecycle(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.PutDeliveryJob("evt_1:ep_1", []byte(`{"attempt":6}`)); err != nil {
		t.Fatalf("put job: %v", err)
	}

	jobs, err := s.ListDeliveryJobs()
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	if err := s.DeleteDeliveryJob("evt_1:ep_1"); err != nil {
		t.Fatalf("delete job: %v", err)
	}

	jobs, err = s.ListDeliveryJobs()
	if err != nil {
		t.Fatalf("list jobs after delete: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected job to be removed, still have %d", len(jobs))
	}
}
