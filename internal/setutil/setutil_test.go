package setutil

import (
	"reflect"
	"testing"
)

func TestDedupPreservesFirstSeenOrder(t *testing.T) {
	got := Dedup([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEqualIgnoresOrderAndDuplicates(t *testing.T) {
	if !Equal([]string{"a", "b", "c"}, []string{"c", "b", "a", "a"}) {
		t.Fatal("expected sets to be equal regardless of order/duplicates")
	}
}

func TestEqualDetectsDifference(t *testing.T) {
	if Equal([]string{"a", "b"}, []string{"a", "b", "c"}) {
		t.Fatal("expected sets of different size to be unequal")
	}
}
