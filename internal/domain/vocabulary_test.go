package domain

import "testing"

func TestMaterials_Extraction(t *testing.T) {
	v := DefaultVocabulary()

	got := v.Materials("Antique GOLD choker with small diamonds")
	want := []string{"gold", "diamond"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestMaterials_NoneMentioned(t *testing.T) {
	v := DefaultVocabulary()
	if got := v.Materials("temple jhumka earrings"); len(got) != 0 {
		t.Fatalf("expected no materials, got %v", got)
	}
}

func TestConflicts_SameAxisDifferentTerm(t *testing.T) {
	v := DefaultVocabulary()
	if !v.Conflicts([]string{"silver"}, []string{"gold"}) {
		t.Error("silver vs gold must conflict on the metal axis")
	}
	if !v.Conflicts([]string{"ruby"}, []string{"diamond"}) {
		t.Error("ruby vs diamond must conflict on the stone axis")
	}
}

func TestConflicts_DifferentAxesCoexist(t *testing.T) {
	v := DefaultVocabulary()
	if v.Conflicts([]string{"gold"}, []string{"diamond"}) {
		t.Error("gold (metal) and diamond (stone) must not conflict")
	}
}

func TestConflicts_SameTerm(t *testing.T) {
	v := DefaultVocabulary()
	if v.Conflicts([]string{"gold"}, []string{"gold"}) {
		t.Error("agreement on a material must not conflict")
	}
}

func TestNormalize_UnitNorm(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if n := Norm(v); n < 0.9999 || n > 1.0001 {
		t.Fatalf("expected unit norm, got %f", n)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0})
	if v[0] != 0 || v[1] != 0 {
		t.Fatalf("zero vector must pass through unchanged, got %v", v)
	}
}
