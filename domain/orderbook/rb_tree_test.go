package orderbook

import (
	"math/rand"
	"testing"
)

func TestRBTreeInsertFindDelete(t *testing.T) {
	tree := NewRBTree()
	pl1, created := tree.UpsertLevel(100)
	if pl1 == nil || !created {
		t.Fatal("UpsertLevel failed")
	}
	if pl2 := tree.FindLevel(100); pl2 != pl1 {
		t.Error("FindLevel did not return same PriceLevel")
	}

	tree.UpsertLevel(200)
	if tree.MinLevel().Price != 100 {
		t.Error("expected min=100")
	}
	if tree.MaxLevel().Price != 200 {
		t.Error("expected max=200")
	}

	if !tree.DeleteLevel(100) {
		t.Error("DeleteLevel failed")
	}
	if tree.FindLevel(100) != nil {
		t.Error("expected level 100 to be gone")
	}
	if tree.Size() != 1 {
		t.Errorf("expected size 1, got %d", tree.Size())
	}
}

func TestDeleteNonExistentLevel(t *testing.T) {
	tree := NewRBTree()
	if tree.DeleteLevel(123) {
		t.Error("expected false when deleting non-existent level")
	}
}

func TestEmptyTreeMinMax(t *testing.T) {
	tree := NewRBTree()
	if tree.MinLevel() != nil || tree.MaxLevel() != nil {
		t.Error("expected nil for min/max on empty tree")
	}
}

func TestUpsertDuplicateLevel(t *testing.T) {
	tree := NewRBTree()
	pl1, _ := tree.UpsertLevel(150)
	pl2, created := tree.UpsertLevel(150)
	if pl1 != pl2 || created {
		t.Error("Upsert should return the same node for duplicate level")
	}
}

func TestSuccessorPredecessor(t *testing.T) {
	tree := NewRBTree()
	for _, p := range []int64{10, 30, 20, 50, 40} {
		tree.UpsertLevel(p)
	}
	if got := tree.Successor(30); got == nil || got.Price != 40 {
		t.Errorf("successor of 30: %v", got)
	}
	if got := tree.Predecessor(30); got == nil || got.Price != 20 {
		t.Errorf("predecessor of 30: %v", got)
	}
	if tree.Successor(50) != nil || tree.Predecessor(10) != nil {
		t.Error("expected no neighbour beyond the ends")
	}
}

func TestRBTreeStaysBalanced(t *testing.T) {
	tree := NewRBTree()
	rng := rand.New(rand.NewSource(42))
	present := map[int64]bool{}

	for i := 0; i < 5000; i++ {
		p := rng.Int63n(500)
		if rng.Intn(3) == 0 {
			if tree.DeleteLevel(p) != present[p] {
				t.Fatalf("delete %d disagreed with model", p)
			}
			delete(present, p)
		} else {
			tree.UpsertLevel(p)
			present[p] = true
		}
		if tree.blackHeight() < 0 {
			t.Fatalf("red-black properties broken after step %d", i)
		}
	}
	if tree.Size() != len(present) {
		t.Fatalf("size %d, model %d", tree.Size(), len(present))
	}

	last := int64(-1)
	tree.ForEachAscending(func(pl *PriceLevel) bool {
		if pl.Price <= last {
			t.Fatalf("ascending walk out of order at %d", pl.Price)
		}
		last = pl.Price
		return true
	})
}
